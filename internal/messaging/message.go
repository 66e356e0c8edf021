package messaging

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageStatus is the delivery state of one outbound message attempt.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// statusRank orders the forward-only delivery progression. Failed sits
// outside the progression and is reachable from any non-terminal state.
var statusRank = map[MessageStatus]int{
	MessagePending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// CanTransitionTo reports whether moving from s to next is allowed. A
// message only moves forward through pending → sent → delivered → read,
// or sideways into failed; terminal states are never re-opened (an
// explicit retry creates a new Message instead).
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s == MessageRead || s == MessageFailed {
		return false
	}
	if next == MessageFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Recipient is a notification target phone number.
type Recipient struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Phone  string             `bson:"phone" json:"phone"`
	Name   string             `bson:"name" json:"name"`
	Active bool               `bson:"active" json:"active"`
	Groups []string           `bson:"groups,omitempty" json:"groups,omitempty"`
}

// RecipientGroup is a named set of recipients addressed as one unit.
type RecipientGroup struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Recipients []Recipient        `bson:"recipients,omitempty" json:"recipients,omitempty"`
}

// MessageTemplate describes a provider-approved parameterized template.
// ParamCount is the positional parameter contract the provider enforces.
type MessageTemplate struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Language   string             `bson:"language" json:"language"`
	ParamCount int                `bson:"param_count" json:"param_count"`
	Active     bool               `bson:"active" json:"active"`
}

// Message records one outbound send attempt and its delivery lifecycle.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecipientPhone string             `bson:"recipient_phone" json:"recipient_phone"`
	RecipientName  string             `bson:"recipient_name,omitempty" json:"recipient_name,omitempty"`

	// Template is empty for freeform text messages.
	Template string   `bson:"template,omitempty" json:"template,omitempty"`
	Language string   `bson:"language,omitempty" json:"language,omitempty"`
	Params   []string `bson:"params,omitempty" json:"params,omitempty"`
	Body     string   `bson:"body,omitempty" json:"body,omitempty"`

	ProviderMessageID string        `bson:"provider_message_id,omitempty" json:"provider_message_id,omitempty"`
	Status            MessageStatus `bson:"status" json:"status"`
	ErrorDetail       string        `bson:"error_detail,omitempty" json:"error_detail,omitempty"`
	ProviderResponse  string        `bson:"provider_response,omitempty" json:"provider_response,omitempty"`
	RetryCount        int           `bson:"retry_count" json:"retry_count"`

	// Context correlates the message to the triggering webhook or alert.
	Context string `bson:"context,omitempty" json:"context,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	SentAt      *time.Time `bson:"sent_at,omitempty" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`
	FailedAt    *time.Time `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
}
