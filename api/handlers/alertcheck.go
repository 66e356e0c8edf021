package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"alert-notifier/internal/dedup"
	"alert-notifier/internal/messaging"
	"alert-notifier/internal/storage"
	"alert-notifier/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// dedupKeyDeviceLoss scopes the fingerprint slot for this alert type.
const dedupKeyDeviceLoss = "device-loss"

// AlertCheckConfig carries the scan parameters and notification wiring.
type AlertCheckConfig struct {
	LossThresholdPct float64
	RecipientGroup   string
	Template         string
}

// AlertCheckHandler runs the device-loss scan: devices over the loss
// threshold are fingerprinted and, when the affected set changed since
// the last evaluation, the operations group is notified. Re-fires with
// an unchanged set are suppressed by the dedup gate.
type AlertCheckHandler struct {
	devices storage.DeviceStore
	gate    *dedup.Gate
	service *messaging.Service
	cfg     AlertCheckConfig
	logger  *zap.Logger
}

func NewAlertCheckHandler(devices storage.DeviceStore, gate *dedup.Gate, service *messaging.Service, cfg AlertCheckConfig, logger *zap.Logger) *AlertCheckHandler {
	return &AlertCheckHandler{
		devices: devices,
		gate:    gate,
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
}

func (h *AlertCheckHandler) HandleDeviceLossCheck(c *gin.Context) {
	ctx := c.Request.Context()

	devices, err := h.devices.ListOverLossThreshold(ctx, h.cfg.LossThresholdPct)
	if err != nil {
		h.logger.Error("Device loss scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Device scan failed"})
		return
	}

	// Nothing affected: report ok and leave the fingerprint cache alone.
	if len(devices) == 0 {
		metrics.DedupEvaluations.WithLabelValues(dedupKeyDeviceLoss, "ok").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "affected": 0})
		return
	}

	codes := make([]string, 0, len(devices))
	for _, d := range devices {
		codes = append(codes, d.Code)
	}

	changed, err := h.gate.ShouldNotify(ctx, dedupKeyDeviceLoss, codes)
	if err != nil {
		h.logger.Error("Dedup evaluation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Dedup evaluation failed"})
		return
	}
	if !changed {
		metrics.DedupEvaluations.WithLabelValues(dedupKeyDeviceLoss, "unchanged").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "unchanged", "affected": len(devices)})
		return
	}
	metrics.DedupEvaluations.WithLabelValues(dedupKeyDeviceLoss, "changed").Inc()

	group, tpl, err := h.service.ResolveAudience(ctx, h.cfg.RecipientGroup, h.cfg.Template)
	if err != nil {
		h.logger.Error("Alert notification misconfigured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Notification misconfigured"})
		return
	}

	params := []string{
		"DeviceLossAlert",
		"critical",
		summarizeDevices(codes),
		fmt.Sprintf("loss > %.1f%%", h.cfg.LossThresholdPct),
	}

	notified := 0
	var sendErrors []string
	for _, rcpt := range group.Recipients {
		if _, err := h.service.SendTemplate(ctx, rcpt, tpl, params, "alert:"+dedupKeyDeviceLoss); err != nil {
			sendErrors = append(sendErrors, fmt.Sprintf("%s: %v", rcpt.Phone, err))
			metrics.NotificationsSent.WithLabelValues(tpl.Name, "failed").Inc()
			continue
		}
		notified++
		metrics.NotificationsSent.WithLabelValues(tpl.Name, "success").Inc()
	}

	h.logger.Info("Device loss alert evaluated",
		zap.Int("affected", len(devices)),
		zap.Int("notified", notified),
		zap.Int("errors", len(sendErrors)),
	)

	resp := gin.H{
		"status":   "alerted",
		"affected": len(devices),
		"notified": notified,
	}
	if len(sendErrors) > 0 {
		resp["errors"] = sendErrors
	}
	c.JSON(http.StatusOK, resp)
}

// summarizeDevices renders the affected set into one template slot,
// truncated so an incident spanning hundreds of devices still fits a
// message parameter.
func summarizeDevices(codes []string) string {
	const maxLen = 200
	joined := strings.Join(codes, ", ")
	if len(joined) <= maxLen {
		return joined
	}
	return joined[:maxLen] + fmt.Sprintf("… (%d devices)", len(codes))
}
