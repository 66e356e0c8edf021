package models

// ProviderCallback mirrors the WhatsApp Cloud API webhook payload shape.
// One callback can carry delivery statuses, inbound messages or errors;
// the ingestion layer derives the record source from whichever is present.
type ProviderCallback struct {
	Object string          `json:"object"`
	Entry  []CallbackEntry `json:"entry"`
}

type CallbackEntry struct {
	ID      string           `json:"id"`
	Changes []CallbackChange `json:"changes"`
}

type CallbackChange struct {
	Field string        `json:"field"`
	Value CallbackValue `json:"value"`
}

type CallbackValue struct {
	MessagingProduct string            `json:"messaging_product,omitempty"`
	Metadata         CallbackMetadata  `json:"metadata,omitempty"`
	Contacts         []CallbackContact `json:"contacts,omitempty"`
	Messages         []InboundMessage  `json:"messages,omitempty"`
	Statuses         []StatusUpdate    `json:"statuses,omitempty"`
	Errors           []ProviderError   `json:"errors,omitempty"`
}

type CallbackMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
}

type CallbackContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a message sent by a human to the business number.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// StatusUpdate reports a delivery-state change for an outbound message.
type StatusUpdate struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	RecipientID string          `json:"recipient_id,omitempty"`
	Errors      []ProviderError `json:"errors,omitempty"`
}

// ProviderError is the structured error object the provider embeds both
// in callbacks and in API error responses.
type ProviderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"error_data,omitempty"`
}

// DeriveCallbackSource inspects a provider callback and classifies it as
// a status, message or error delivery.
func (p ProviderCallback) DeriveCallbackSource() Source {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Statuses) > 0 {
				return SourceWhatsAppStatus
			}
			if len(change.Value.Messages) > 0 {
				return SourceWhatsAppMessage
			}
			if len(change.Value.Errors) > 0 {
				return SourceWhatsAppError
			}
		}
	}
	return SourceUnknown
}
