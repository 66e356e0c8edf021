package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"alert-notifier/internal/models"
	"alert-notifier/internal/queue"
	"alert-notifier/internal/storage"
	"alert-notifier/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookHandler owns the ingestion path: persist first, validate
// second, enqueue third, respond immediately. The outbound notification
// work never happens on this request.
type WebhookHandler struct {
	store       storage.WebhookStore
	dispatch    queue.Queue
	rateLimiter *RateLimiter
	verifyToken string
	logger      *zap.Logger
}

func NewWebhookHandler(store storage.WebhookStore, dispatch queue.Queue, verifyToken string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:       store,
		dispatch:    dispatch,
		rateLimiter: NewRateLimiter(0),
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// HandleIncoming receives POST /webhooks/:source. The raw request body
// is captured into a durable audit record before any validation, so a
// malformed payload still leaves a permanent trace.
func (h *WebhookHandler) HandleIncoming(c *gin.Context) {
	sourceParam := c.Param("source")

	if !h.rateLimiter.AllowRequest(sourceParam) {
		metrics.RateLimitExceeded.WithLabelValues(sourceParam).Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "message": "Rate limit exceeded"})
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Unable to read request body"})
		return
	}

	if sourceParam == "whatsapp" {
		h.handleProviderCallback(c, raw)
		return
	}

	source := models.ParseSource(sourceParam)
	rec := h.newRecord(c, source, raw)
	metrics.WebhookReceived.WithLabelValues(string(source)).Inc()

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		rec.ProcessingStatus = models.StatusFailed
		rec.ErrorMessage = "Invalid JSON payload: " + err.Error()
		h.persist(c, rec)
		h.logger.Warn("Rejected unparsable webhook body",
			zap.String("source", string(source)),
			zap.String("webhook_id", rec.ID.Hex()),
			zap.String("client_ip", rec.ClientIP),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"status":     "error",
			"message":    "Invalid JSON payload",
			"webhook_id": rec.ID.Hex(),
		})
		return
	}
	rec.Payload = payload

	alertsCount := 0
	if source.IsAlertSource() {
		alerts, ok := payload["alerts"].([]any)
		if !ok {
			rec.ProcessingStatus = models.StatusFailed
			rec.ErrorMessage = "Payload must contain alerts array"
			h.persist(c, rec)
			c.JSON(http.StatusBadRequest, gin.H{
				"status":     "error",
				"message":    "Payload must contain alerts array",
				"webhook_id": rec.ID.Hex(),
			})
			return
		}
		alertsCount = len(alerts)
	}

	if !h.persist(c, rec) {
		return
	}
	if !h.enqueue(c, rec) {
		return
	}

	resp := gin.H{
		"status":     "queued",
		"webhook_id": rec.ID.Hex(),
	}
	if source.IsAlertSource() {
		resp["alerts_count"] = alertsCount
	}
	c.JSON(http.StatusOK, resp)
}

// handleProviderCallback ingests WhatsApp Cloud API callbacks. The
// record source is derived from the payload contents: delivery statuses,
// inbound messages or provider errors.
func (h *WebhookHandler) handleProviderCallback(c *gin.Context, raw []byte) {
	var callback models.ProviderCallback
	if err := json.Unmarshal(raw, &callback); err != nil {
		rec := h.newRecord(c, models.SourceUnknown, raw)
		rec.ProcessingStatus = models.StatusFailed
		rec.ErrorMessage = "Invalid JSON payload: " + err.Error()
		h.persist(c, rec)
		metrics.WebhookReceived.WithLabelValues(string(models.SourceUnknown)).Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"status":     "error",
			"message":    "Invalid JSON payload",
			"webhook_id": rec.ID.Hex(),
		})
		return
	}

	source := callback.DeriveCallbackSource()
	rec := h.newRecord(c, source, raw)
	metrics.WebhookReceived.WithLabelValues(string(source)).Inc()

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		rec.Payload = payload
	}

	// Correlate the record with the first referenced provider message.
	for _, entry := range callback.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Statuses) > 0 {
				rec.ExternalMessageID = change.Value.Statuses[0].ID
				rec.RelatedEntityType = "message"
			}
		}
	}

	if !h.persist(c, rec) {
		return
	}
	if !h.enqueue(c, rec) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "queued",
		"webhook_id": rec.ID.Hex(),
	})
}

// HandleVerify answers the provider's subscription-verification
// handshake on GET /webhooks/whatsapp.
func (h *WebhookHandler) HandleVerify(c *gin.Context) {
	if c.Param("source") != "whatsapp" {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Not found"})
		return
	}

	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		h.logger.Info("Webhook subscription verified", zap.String("ip", c.ClientIP()))
		c.String(http.StatusOK, challenge)
		return
	}

	h.logger.Warn("Webhook verification rejected",
		zap.String("mode", mode),
		zap.String("ip", c.ClientIP()),
	)
	c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Verification failed"})
}

func (h *WebhookHandler) newRecord(c *gin.Context, source models.Source, raw []byte) *models.WebhookRecord {
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return &models.WebhookRecord{
		Source:           source,
		Endpoint:         c.Request.URL.Path,
		Method:           c.Request.Method,
		Headers:          headers,
		RawBody:          string(raw),
		ClientIP:         c.ClientIP(),
		UserAgent:        c.Request.UserAgent(),
		ProcessingStatus: models.StatusReceived,
	}
}

func (h *WebhookHandler) persist(c *gin.Context, rec *models.WebhookRecord) bool {
	if err := h.store.LogIncoming(c.Request.Context(), rec); err != nil {
		h.logger.Error("Failed to persist webhook record",
			zap.Error(err),
			zap.String("source", string(rec.Source)),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to store webhook"})
		return false
	}
	return true
}

func (h *WebhookHandler) enqueue(c *gin.Context, rec *models.WebhookRecord) bool {
	if err := h.dispatch.Enqueue(c.Request.Context(), rec.ID.Hex(), rec.Source); err != nil {
		h.logger.Error("Failed to enqueue webhook for processing",
			zap.Error(err),
			zap.String("webhook_id", rec.ID.Hex()),
		)
		// The audit record stays in received state for a later sweep.
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":     "error",
			"message":    "Failed to queue webhook",
			"webhook_id": rec.ID.Hex(),
		})
		return false
	}
	return true
}
