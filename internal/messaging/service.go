package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alert-notifier/internal/notifier"

	"go.uber.org/zap"
)

// ErrNotFound reports a missing recipient group, template or message.
var ErrNotFound = errors.New("not found")

// ErrParamMismatch reports a violation of a template's positional
// parameter contract.
var ErrParamMismatch = errors.New("template parameter count mismatch")

// MessageStore persists outbound message attempts and their delivery
// lifecycle.
type MessageStore interface {
	Insert(ctx context.Context, msg *Message) error
	FindByProviderMessageID(ctx context.Context, providerID string) (*Message, error)
	UpdateStatus(ctx context.Context, msg *Message, status MessageStatus, at time.Time) error
}

// DirectoryStore resolves notification configuration: who to notify and
// with which template.
type DirectoryStore interface {
	GroupByName(ctx context.Context, name string) (*RecipientGroup, error)
	TemplateByName(ctx context.Context, name string) (*MessageTemplate, error)
}

// Service owns the outbound message lifecycle: it records every send
// attempt before the transport call and applies provider-reported
// delivery transitions afterwards.
type Service struct {
	messages  MessageStore
	directory DirectoryStore
	sender    notifier.Sender
	logger    *zap.Logger
}

func NewService(messages MessageStore, directory DirectoryStore, sender notifier.Sender, logger *zap.Logger) *Service {
	return &Service{
		messages:  messages,
		directory: directory,
		sender:    sender,
		logger:    logger,
	}
}

// ResolveAudience loads the recipient group and template a notification
// is configured to use. A missing group or template is a configuration
// error with no retry value; callers classify it through ErrNotFound.
func (s *Service) ResolveAudience(ctx context.Context, groupName, templateName string) (*RecipientGroup, *MessageTemplate, error) {
	group, err := s.directory.GroupByName(ctx, groupName)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := s.directory.TemplateByName(ctx, templateName)
	if err != nil {
		return nil, nil, err
	}
	return group, tpl, nil
}

// SendTemplate records one send attempt and performs it. The Message row
// exists (pending) before the transport call so a crash mid-send still
// leaves an audit entry; afterwards it moves to sent with the provider
// message id, or to failed with the error detail. The returned Message
// reflects the final state even when err is non-nil.
func (s *Service) SendTemplate(ctx context.Context, recipient Recipient, tpl *MessageTemplate, params []string, contextTag string) (*Message, error) {
	if tpl.ParamCount > 0 && len(params) != tpl.ParamCount {
		return nil, fmt.Errorf("template %q expects %d params, got %d: %w",
			tpl.Name, tpl.ParamCount, len(params), ErrParamMismatch)
	}

	msg := &Message{
		RecipientPhone: recipient.Phone,
		RecipientName:  recipient.Name,
		Template:       tpl.Name,
		Language:       tpl.Language,
		Params:         params,
		Status:         MessagePending,
		Context:        contextTag,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	providerID, sendErr := s.sender.Send(ctx, notifier.SendRequest{
		To:       recipient.Phone,
		Template: tpl.Name,
		Language: tpl.Language,
		Params:   params,
	})

	now := time.Now().UTC()
	if sendErr != nil {
		msg.ErrorDetail = sendErr.Error()
		var apiErr *notifier.APIError
		if errors.As(sendErr, &apiErr) {
			msg.ProviderResponse = apiErr.RawBody
		}
		if err := s.messages.UpdateStatus(ctx, msg, MessageFailed, now); err != nil {
			s.logger.Error("Failed to record message failure",
				zap.Error(err),
				zap.String("message_id", msg.ID.Hex()),
			)
		}
		return msg, sendErr
	}

	msg.ProviderMessageID = providerID
	if err := s.messages.UpdateStatus(ctx, msg, MessageSent, now); err != nil {
		s.logger.Error("Failed to record message as sent",
			zap.Error(err),
			zap.String("message_id", msg.ID.Hex()),
			zap.String("provider_message_id", providerID),
		)
	}
	return msg, nil
}

// providerStatusMap translates the provider's callback status strings
// into the message lifecycle.
var providerStatusMap = map[string]MessageStatus{
	"sent":      MessageSent,
	"delivered": MessageDelivered,
	"read":      MessageRead,
	"failed":    MessageFailed,
}

// ApplyProviderStatusUpdate applies an asynchronous delivery-state change
// reported by the provider for an earlier outbound message. A message
// that cannot be found is reported, not silently ignored. Backward
// transitions (a late "sent" after "delivered") are dropped with a log
// line; the lifecycle only moves forward.
func (s *Service) ApplyProviderStatusUpdate(ctx context.Context, providerMessageID, providerStatus string, errorDetail string) error {
	status, ok := providerStatusMap[providerStatus]
	if !ok {
		return fmt.Errorf("unknown provider status %q for message %s", providerStatus, providerMessageID)
	}

	msg, err := s.messages.FindByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("Status update for unknown message",
				zap.String("provider_message_id", providerMessageID),
				zap.String("status", providerStatus),
			)
		}
		return err
	}

	if !msg.Status.CanTransitionTo(status) {
		s.logger.Info("Dropping out-of-order status update",
			zap.String("provider_message_id", providerMessageID),
			zap.String("current", string(msg.Status)),
			zap.String("reported", string(status)),
		)
		return nil
	}

	if status == MessageFailed && errorDetail != "" {
		msg.ErrorDetail = errorDetail
	}
	if err := s.messages.UpdateStatus(ctx, msg, status, time.Now().UTC()); err != nil {
		return err
	}

	s.logger.Info("Applied provider status update",
		zap.String("provider_message_id", providerMessageID),
		zap.String("status", string(status)),
	)
	return nil
}
