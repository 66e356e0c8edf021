package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "The total number of inbound webhook calls received",
	}, []string{"source"})

	WebhookProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed_total",
		Help: "The total number of webhook records processed",
	}, []string{"source", "status"})

	WebhookProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_duration_seconds",
		Help:    "Time taken to process webhook records",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	WebhookQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "webhook_queue_depth",
		Help: "Undelivered items in the dispatch queue",
	}, []string{"queue"})

	WebhookRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_retries_total",
		Help: "The total number of work item redeliveries",
	}, []string{"source"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Outbound notification attempts by template and outcome",
	}, []string{"template", "status"})

	DedupEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_evaluations_total",
		Help: "Deduplication gate evaluations by outcome",
	}, []string{"check", "outcome"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rate_limit_exceeded_total",
		Help: "The total number of times ingestion rate limits were exceeded",
	}, []string{"source"})
)
