package router

import (
	"alert-notifier/api/handlers"
	"alert-notifier/api/middleware"
	"alert-notifier/config"
	"alert-notifier/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(log *logger.Logger, webhook *handlers.WebhookHandler, alertCheck *handlers.AlertCheckHandler, cfg *config.Config) *gin.Engine {
	router := gin.Default()

	security := middleware.NewSecurityMiddleware(log.Desugar())
	router.Use(security.CORS())

	// Health check endpoint (no authentication required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Metrics endpoint for Prometheus (no authentication required)
	metricsPath := cfg.Monitoring.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	// Ingestion. Provider webhooks authenticate via the subscription
	// handshake, not per-request credentials; alert producers are
	// network-internal. GET on the whatsapp source answers the
	// hub.challenge verification.
	router.GET("/webhooks/:source", webhook.HandleVerify)
	router.POST("/webhooks/:source", webhook.HandleIncoming)

	// The scan endpoint triggers outbound notifications, so it is
	// guarded by a static bearer token.
	alerts := router.Group("/alerts", security.BearerAuth(cfg.Alerts.CheckToken))
	alerts.GET("/device-loss", alertCheck.HandleDeviceLossCheck)
	alerts.POST("/device-loss", alertCheck.HandleDeviceLossCheck)

	log.Desugar().Info("Router configured")

	return router
}
