package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Source identifies the system that produced an inbound webhook call.
type Source string

const (
	SourceAlertmanager    Source = "alertmanager"
	SourcePrometheus      Source = "prometheus"
	SourceGrafana         Source = "grafana"
	SourceWhatsAppStatus  Source = "whatsapp_status"
	SourceWhatsAppMessage Source = "whatsapp_message"
	SourceWhatsAppError   Source = "whatsapp_error"
	SourceUnknown         Source = "unknown"
)

// ParseSource maps a URL path segment onto a known source. Anything
// unrecognized becomes SourceUnknown so new producers are accepted and
// audited instead of rejected.
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceAlertmanager, SourcePrometheus, SourceGrafana,
		SourceWhatsAppStatus, SourceWhatsAppMessage, SourceWhatsAppError:
		return Source(s)
	}
	return SourceUnknown
}

// IsAlertSource reports whether the source delivers an alertmanager-style
// payload with a top-level alerts array.
func (s Source) IsAlertSource() bool {
	return s == SourceAlertmanager || s == SourcePrometheus || s == SourceGrafana
}

// ProcessingStatus is the lifecycle state of a WebhookRecord.
type ProcessingStatus string

const (
	StatusReceived   ProcessingStatus = "received"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessingResult aggregates the outcome of processing one webhook
// delivery. For alert batches the counts cover every alert in the batch.
type ProcessingResult struct {
	Processed int      `bson:"processed" json:"processed"`
	Skipped   int      `bson:"skipped" json:"skipped"`
	Errors    []string `bson:"errors,omitempty" json:"errors,omitempty"`
	Detail    string   `bson:"detail,omitempty" json:"detail,omitempty"`
}

// WebhookRecord is the durable audit entry for one inbound webhook call.
// The raw body is captured before any parsing so a malformed payload
// still leaves a permanent record. Records are never deleted.
type WebhookRecord struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Source   Source             `bson:"source" json:"source"`
	Endpoint string             `bson:"endpoint" json:"endpoint"`
	Method   string             `bson:"method" json:"method"`
	Headers  map[string]string  `bson:"headers,omitempty" json:"headers,omitempty"`

	// RawBody is preserved verbatim even when parsing fails.
	RawBody string         `bson:"raw_body" json:"raw_body"`
	Payload map[string]any `bson:"payload,omitempty" json:"payload,omitempty"`

	ClientIP  string `bson:"client_ip,omitempty" json:"client_ip,omitempty"`
	UserAgent string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`

	ProcessingStatus ProcessingStatus  `bson:"processing_status" json:"processing_status"`
	ProcessingResult *ProcessingResult `bson:"processing_result,omitempty" json:"processing_result,omitempty"`
	ErrorMessage     string            `bson:"error_message,omitempty" json:"error_message,omitempty"`
	RetryCount       int               `bson:"retry_count" json:"retry_count"`

	// Correlation fields linking the record to domain entities.
	ConcessionCode    string `bson:"concession_code,omitempty" json:"concession_code,omitempty"`
	RelatedEntityType string `bson:"related_entity_type,omitempty" json:"related_entity_type,omitempty"`
	RelatedEntityID   string `bson:"related_entity_id,omitempty" json:"related_entity_id,omitempty"`
	ExternalMessageID string `bson:"external_message_id,omitempty" json:"external_message_id,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}
