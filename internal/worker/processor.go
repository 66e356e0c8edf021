package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alert-notifier/internal/messaging"
	"alert-notifier/internal/models"
	"alert-notifier/internal/storage"
	"alert-notifier/pkg/metrics"

	"go.uber.org/zap"
)

// ProcessorConfig carries the notification wiring for alert batches.
type ProcessorConfig struct {
	RecipientGroup string
	AlertTemplate  string
}

// Processor consumes one webhook record at a time, routes it by source
// and drives its lifecycle: processing → completed | failed. Any routing
// error is recorded on the record via MarkFailed and then returned, so
// the queue consumer's retry policy stays the single point of truth for
// redelivery decisions.
type Processor struct {
	webhooks storage.WebhookStore
	service  *messaging.Service
	cfg      ProcessorConfig
	logger   *zap.Logger
}

func NewProcessor(webhooks storage.WebhookStore, service *messaging.Service, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	return &Processor{
		webhooks: webhooks,
		service:  service,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process handles one delivery attempt for a webhook record.
func (p *Processor) Process(ctx context.Context, rec *models.WebhookRecord) error {
	if rec.ProcessingStatus == models.StatusCompleted {
		// Redelivery of already-completed work; nothing to do.
		p.logger.Info("Skipping already-completed record",
			zap.String("webhook_id", rec.ID.Hex()),
		)
		return nil
	}

	if err := p.webhooks.MarkProcessing(ctx, rec); err != nil {
		return fmt.Errorf("entering processing: %w", err)
	}

	start := time.Now()
	result, err := p.route(ctx, rec)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if markErr := p.webhooks.MarkFailed(ctx, rec, err.Error(), result); markErr != nil {
			p.logger.Error("Failed to record processing failure",
				zap.Error(markErr),
				zap.String("webhook_id", rec.ID.Hex()),
			)
		}
		metrics.WebhookProcessed.WithLabelValues(string(rec.Source), "failed").Inc()
		metrics.WebhookProcessingTime.WithLabelValues(string(rec.Source)).Observe(elapsed)
		return err
	}

	if err := p.webhooks.MarkCompleted(ctx, rec, result); err != nil {
		return fmt.Errorf("recording completion: %w", err)
	}
	metrics.WebhookProcessed.WithLabelValues(string(rec.Source), "success").Inc()
	metrics.WebhookProcessingTime.WithLabelValues(string(rec.Source)).Observe(elapsed)
	return nil
}

// route dispatches by source variant. Each variant has one handler; the
// unknown variant is accepted and skipped rather than failed so new
// webhook producers do not turn into error noise.
func (p *Processor) route(ctx context.Context, rec *models.WebhookRecord) (*models.ProcessingResult, error) {
	switch rec.Source {
	case models.SourceAlertmanager, models.SourcePrometheus, models.SourceGrafana:
		return p.processAlertBatch(ctx, rec)
	case models.SourceWhatsAppStatus:
		return p.processStatusUpdates(ctx, rec)
	case models.SourceWhatsAppMessage:
		return p.processInboundMessages(ctx, rec)
	case models.SourceWhatsAppError:
		return p.processInboundErrors(ctx, rec)
	default:
		p.logger.Warn("Unknown webhook source, skipping",
			zap.String("webhook_id", rec.ID.Hex()),
			zap.String("source", string(rec.Source)),
		)
		return &models.ProcessingResult{
			Skipped: 1,
			Detail:  fmt.Sprintf("skipped: unknown source %q", rec.Source),
		}, nil
	}
}

// processAlertBatch applies the two-stage filter (firing AND critical)
// to every alert in the batch, then notifies the configured recipient
// group per surviving alert. Alerts are handled in payload order for
// deterministic logging. Partial failures are reported, not swallowed:
// any per-alert error marks the whole batch failed even though some
// sends succeeded.
func (p *Processor) processAlertBatch(ctx context.Context, rec *models.WebhookRecord) (*models.ProcessingResult, error) {
	var batch models.AlertBatch
	if err := json.Unmarshal([]byte(rec.RawBody), &batch); err != nil {
		return nil, Permanent(fmt.Errorf("parsing alert payload: %w", err))
	}
	if batch.Alerts == nil {
		return nil, Permanent(errors.New("payload must contain alerts array"))
	}

	group, tpl, err := p.service.ResolveAudience(ctx, p.cfg.RecipientGroup, p.cfg.AlertTemplate)
	if err != nil {
		if errors.Is(err, messaging.ErrNotFound) {
			// Configuration error: retrying cannot fix a missing group
			// or template.
			return nil, Permanent(err)
		}
		return nil, err
	}
	if len(group.Recipients) == 0 {
		return nil, Permanent(fmt.Errorf("recipient group %q has no active recipients", group.Name))
	}

	result := &models.ProcessingResult{}
	for _, alert := range batch.Alerts {
		if !alert.IsFiringCritical() {
			result.Skipped++
			continue
		}

		params := alert.TemplateParams()
		contextTag := "alert:" + alert.Name()
		alertFailed := false

		for _, rcpt := range group.Recipients {
			_, sendErr := p.service.SendTemplate(ctx, rcpt, tpl, params, contextTag)
			if sendErr != nil {
				alertFailed = true
				result.Errors = append(result.Errors,
					fmt.Sprintf("alert %s to %s: %v", alert.Name(), rcpt.Phone, sendErr))
				metrics.NotificationsSent.WithLabelValues(tpl.Name, "failed").Inc()
				if errors.Is(sendErr, messaging.ErrParamMismatch) {
					// Contract violation holds for every recipient.
					break
				}
				continue
			}
			metrics.NotificationsSent.WithLabelValues(tpl.Name, "success").Inc()
		}

		if !alertFailed {
			result.Processed++
		}
	}

	p.logger.Info("Alert batch processed",
		zap.String("webhook_id", rec.ID.Hex()),
		zap.String("source", string(rec.Source)),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("%d of %d alerts failed to send",
			len(result.Errors), len(batch.Alerts))
	}
	return result, nil
}

// processStatusUpdates applies provider-reported delivery transitions to
// earlier outbound messages. Unknown message ids are reported as a
// permanent failure (retrying cannot make the message appear); transient
// store errors keep the batch retryable.
func (p *Processor) processStatusUpdates(ctx context.Context, rec *models.WebhookRecord) (*models.ProcessingResult, error) {
	callback, err := p.parseCallback(rec)
	if err != nil {
		return nil, err
	}

	result := &models.ProcessingResult{}
	unknown := 0
	for _, entry := range callback.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				errDetail := ""
				if len(status.Errors) > 0 {
					errDetail = formatProviderErrors(status.Errors)
				}
				applyErr := p.service.ApplyProviderStatusUpdate(ctx, status.ID, status.Status, errDetail)
				switch {
				case applyErr == nil:
					result.Processed++
				case errors.Is(applyErr, messaging.ErrNotFound):
					unknown++
					result.Errors = append(result.Errors,
						fmt.Sprintf("status %q for unknown message %s", status.Status, status.ID))
				default:
					return result, fmt.Errorf("applying status update for %s: %w", status.ID, applyErr)
				}
			}
		}
	}

	if unknown > 0 {
		return result, Permanent(fmt.Errorf("%d status updates referenced unknown messages", unknown))
	}
	return result, nil
}

// processInboundMessages archives human replies on the audit record.
// Replying is out of scope for the pipeline; the record keeps who wrote
// and what.
func (p *Processor) processInboundMessages(ctx context.Context, rec *models.WebhookRecord) (*models.ProcessingResult, error) {
	callback, err := p.parseCallback(rec)
	if err != nil {
		return nil, err
	}

	result := &models.ProcessingResult{}
	var lines []string
	for _, entry := range callback.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				result.Processed++
				body := ""
				if msg.Text != nil {
					body = msg.Text.Body
				}
				lines = append(lines, fmt.Sprintf("%s (%s): %s", msg.From, msg.Type, body))
				p.logger.Info("Inbound WhatsApp message archived",
					zap.String("webhook_id", rec.ID.Hex()),
					zap.String("from", msg.From),
					zap.String("provider_message_id", msg.ID),
					zap.String("type", msg.Type),
				)
			}
		}
	}
	result.Detail = strings.Join(lines, "; ")
	return result, nil
}

// processInboundErrors records provider-reported errors. The payload
// describes an upstream problem, not a processing failure, so the record
// completes with the error details preserved.
func (p *Processor) processInboundErrors(ctx context.Context, rec *models.WebhookRecord) (*models.ProcessingResult, error) {
	callback, err := p.parseCallback(rec)
	if err != nil {
		return nil, err
	}

	result := &models.ProcessingResult{}
	var all []models.ProviderError
	for _, entry := range callback.Entry {
		for _, change := range entry.Changes {
			all = append(all, change.Value.Errors...)
		}
	}
	result.Processed = len(all)
	result.Detail = formatProviderErrors(all)

	p.logger.Warn("Provider reported errors",
		zap.String("webhook_id", rec.ID.Hex()),
		zap.Int("count", len(all)),
		zap.String("detail", result.Detail),
	)
	return result, nil
}

func (p *Processor) parseCallback(rec *models.WebhookRecord) (*models.ProviderCallback, error) {
	var callback models.ProviderCallback
	if err := json.Unmarshal([]byte(rec.RawBody), &callback); err != nil {
		return nil, Permanent(fmt.Errorf("parsing provider callback: %w", err))
	}
	return &callback, nil
}

func formatProviderErrors(errs []models.ProviderError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		title := e.Title
		if title == "" {
			title = e.Message
		}
		parts = append(parts, fmt.Sprintf("code %d: %s", e.Code, title))
	}
	return strings.Join(parts, "; ")
}
