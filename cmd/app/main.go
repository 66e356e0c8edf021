package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alert-notifier/api/handlers"
	"alert-notifier/api/router"
	"alert-notifier/config"
	"alert-notifier/internal/dedup"
	"alert-notifier/internal/messaging"
	"alert-notifier/internal/notifier"
	"alert-notifier/internal/queue"
	"alert-notifier/internal/server"
	"alert-notifier/internal/storage"
	"alert-notifier/pkg/logger"

	"github.com/redis/go-redis/v9"
)

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
	deviceStore := storage.NewMongoDeviceStore(db)

	// Initialize the dispatch queue backend
	dispatch, err := buildQueue(cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize dispatch queue: %v", err)
	}

	// Initialize the dedup fingerprint cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	cancelPing()
	gate := dedup.NewGate(
		dedup.NewRedisStore(redisClient),
		time.Duration(cfg.Alerts.DedupTTLHours)*time.Hour,
		logger.Desugar(),
	)

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

	webhookHandler := handlers.NewWebhookHandler(webhookStore, dispatch, cfg.WhatsApp.VerifyToken, logger.Desugar())
	alertCheck := handlers.NewAlertCheckHandler(deviceStore, gate, service, handlers.AlertCheckConfig{
		LossThresholdPct: cfg.Alerts.LossThresholdPct,
		RecipientGroup:   cfg.Alerts.RecipientGroup,
		Template:         cfg.Alerts.Template,
	}, logger.Desugar())

	engine := router.Setup(logger, webhookHandler, alertCheck, cfg)
	srv := server.NewServer(cfg, logger, engine)

	// Start server
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := srv.Shutdown(); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := dispatch.Close(); err != nil {
		logger.Errorf("Queue close failed: %v", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Close(closeCtx); err != nil {
		logger.Errorf("MongoDB close failed: %v", err)
	}
}

func buildQueue(cfg *config.Config, db *storage.MongoDB, log *logger.Logger) (queue.Queue, error) {
	if cfg.Queue.Backend == "rabbitmq" {
		return queue.NewRabbitQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.Queue.Name, log.Desugar())
	}
	return queue.NewMongoQueue(db, cfg.Queue.Name, log.Desugar()), nil
}
