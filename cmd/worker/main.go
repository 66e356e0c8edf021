package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alert-notifier/config"
	"alert-notifier/internal/messaging"
	"alert-notifier/internal/notifier"
	"alert-notifier/internal/queue"
	"alert-notifier/internal/storage"
	"alert-notifier/internal/worker"
	"alert-notifier/pkg/logger"
	"alert-notifier/pkg/metrics"
)

// depthReporter is satisfied by queue backends that can report how many
// undelivered items they hold.
type depthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.NewLogger(cfg.LogLevel)

	// Initialize MongoDB and stores
	db, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, logger.Desugar())
	if err != nil {
		logger.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	webhookStore := storage.NewMongoWebhookStore(db, logger.Desugar())
	messageStore := storage.NewMongoMessageStore(db, logger.Desugar())
	directory := storage.NewMongoDirectoryStore(db)

	// Initialize the dispatch queue backend
	dispatch, err := buildQueue(cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize dispatch queue: %v", err)
	}

	// Initialize the WhatsApp transport and messaging service
	sender := notifier.NewClient(
		cfg.WhatsApp.BaseURL,
		cfg.WhatsApp.APIVersion,
		cfg.WhatsApp.PhoneNumberID,
		cfg.WhatsApp.Token,
		time.Duration(cfg.WhatsApp.TimeoutSeconds)*time.Second,
		logger.Desugar(),
	)
	service := messaging.NewService(messageStore, directory, sender, logger.Desugar())

	processor := worker.NewProcessor(webhookStore, service, worker.ProcessorConfig{
		RecipientGroup: cfg.Alerts.RecipientGroup,
		AlertTemplate:  cfg.Alerts.Template,
	}, logger.Desugar())

	consumer := worker.NewConsumer(dispatch, webhookStore, processor, logger.Desugar())
	consumer.SetRetryPolicy(cfg.Queue.MaxAttempts, time.Duration(cfg.Queue.BaseDelaySeconds)*time.Second)
	consumer.SetPollInterval(time.Duration(cfg.Queue.PollIntervalMillis) * time.Millisecond)
	consumer.SetVisibilityTimeout(time.Duration(cfg.Queue.VisibilityTimeoutSecs) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	go consumer.Start(ctx)
	consumer.StartReaper(ctx, time.Duration(cfg.Queue.ReaperIntervalSeconds)*time.Second)
	if reporter, ok := dispatch.(depthReporter); ok {
		go updateQueueDepth(ctx, reporter, cfg.Queue.Name, logger)
	}

	// Expose worker metrics for Prometheus scraping
	go func() {
		mux := http.NewServeMux()
		mux.Handle(cfg.Monitoring.MetricsPath, promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	logger.Infof("Worker started, consuming from queue %s (%s backend)", cfg.Queue.Name, cfg.Queue.Backend)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	if err := dispatch.Close(); err != nil {
		logger.Errorf("Queue close failed: %v", err)
	}
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelClose()
	if err := db.Close(closeCtx); err != nil {
		logger.Errorf("MongoDB close failed: %v", err)
	}
}

func updateQueueDepth(ctx context.Context, reporter depthReporter, queueName string, log *logger.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := reporter.Depth(ctx)
			if err != nil {
				log.Warnf("Failed to read queue depth: %v", err)
				continue
			}
			metrics.WebhookQueueDepth.WithLabelValues(queueName).Set(float64(depth))
		}
	}
}

func buildQueue(cfg *config.Config, db *storage.MongoDB, log *logger.Logger) (queue.Queue, error) {
	if cfg.Queue.Backend == "rabbitmq" {
		return queue.NewRabbitQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.Queue.Name, log.Desugar())
	}
	return queue.NewMongoQueue(db, cfg.Queue.Name, log.Desugar()), nil
}
