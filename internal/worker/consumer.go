package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"alert-notifier/internal/queue"
	"alert-notifier/internal/storage"
	"alert-notifier/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Consumer polls the work queue and drives the processor. Multiple
// consumers can run concurrently; the queue's atomic claim guarantees an
// item is processed by at most one of them at a time.
type Consumer struct {
	queue     queue.Queue
	webhooks  storage.WebhookStore
	processor *Processor
	logger    *zap.Logger

	pollInterval      time.Duration
	maxAttempts       int
	baseDelay         time.Duration
	visibilityTimeout time.Duration
}

func NewConsumer(q queue.Queue, webhooks storage.WebhookStore, processor *Processor, logger *zap.Logger) *Consumer {
	return &Consumer{
		queue:             q,
		webhooks:          webhooks,
		processor:         processor,
		logger:            logger,
		pollInterval:      500 * time.Millisecond,
		maxAttempts:       3,
		baseDelay:         10 * time.Second,
		visibilityTimeout: 5 * time.Minute,
	}
}

// SetRetryPolicy overrides the redelivery policy.
func (c *Consumer) SetRetryPolicy(maxAttempts int, baseDelay time.Duration) {
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		c.baseDelay = baseDelay
	}
}

// SetPollInterval overrides how often the consumer checks for ready items.
func (c *Consumer) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		c.pollInterval = interval
	}
}

// SetVisibilityTimeout overrides how long a claim may sit unsettled
// before the reaper returns it to the eligible pool.
func (c *Consumer) SetVisibilityTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.visibilityTimeout = timeout
	}
}

// Start runs the consume loop until the context is cancelled. Each tick
// drains every ready item before sleeping again.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("Consumer started",
		zap.Duration("poll_interval", c.pollInterval),
		zap.Int("max_attempts", c.maxAttempts),
	)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopping")
			return
		case <-ticker.C:
			c.drain(ctx)
		}
	}
}

func (c *Consumer) drain(ctx context.Context) {
	for {
		item, err := c.queue.ClaimNext(ctx)
		if err != nil {
			c.logger.Error("Failed to claim work item", zap.Error(err))
			return
		}
		if item == nil {
			return
		}
		c.handle(ctx, item)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handle processes one claimed item and settles it exactly once.
func (c *Consumer) handle(ctx context.Context, item *queue.Item) {
	oid, err := primitive.ObjectIDFromHex(item.RecordID)
	if err != nil {
		c.logger.Error("Work item carries malformed record id, dropping",
			zap.String("record_id", item.RecordID),
		)
		c.settle(ctx, item)
		return
	}

	rec, err := c.webhooks.FindByID(ctx, oid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.logger.Error("Work item references missing record, dropping",
				zap.String("record_id", item.RecordID),
			)
			c.settle(ctx, item)
			return
		}
		// Store unavailable; leave the item for redelivery.
		c.retry(ctx, item, err)
		return
	}
	rec.RetryCount = item.Attempts

	err = c.processor.Process(ctx, rec)
	switch {
	case err == nil:
		c.settle(ctx, item)
	case IsPermanent(err):
		// Recorded as failed on the record; redelivery cannot help.
		c.logger.Warn("Permanent processing failure, not retrying",
			zap.Error(err),
			zap.String("webhook_id", item.RecordID),
			zap.String("source", string(item.Source)),
		)
		c.settle(ctx, item)
	default:
		c.retry(ctx, item, err)
	}
}

func (c *Consumer) settle(ctx context.Context, item *queue.Item) {
	if err := c.queue.MarkDelivered(ctx, item); err != nil {
		c.logger.Error("Failed to settle work item", zap.Error(err),
			zap.String("item_id", item.ID))
	}
}

func (c *Consumer) retry(ctx context.Context, item *queue.Item, cause error) {
	nextAttempt := item.Attempts + 1
	if nextAttempt >= c.maxAttempts {
		c.logger.Error("Work item exhausted retries, dead-lettering",
			zap.Error(cause),
			zap.String("webhook_id", item.RecordID),
			zap.Int("attempts", nextAttempt),
		)
		c.settle(ctx, item)
		return
	}

	delay := c.backoff(nextAttempt)
	metrics.WebhookRetries.WithLabelValues(string(item.Source)).Inc()
	c.logger.Warn("Transient processing failure, rescheduling",
		zap.Error(cause),
		zap.String("webhook_id", item.RecordID),
		zap.Int("attempt", nextAttempt),
		zap.Duration("delay", delay),
	)
	if err := c.queue.Reschedule(ctx, item, delay); err != nil {
		c.logger.Error("Failed to reschedule work item", zap.Error(err),
			zap.String("item_id", item.ID))
	}
}

// backoff computes exponential delay with jitter.
func (c *Consumer) backoff(attempt int) time.Duration {
	base := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	jitter := rand.Float64()*0.5 + 0.5 // 50% jitter
	return time.Duration(base * jitter)
}

// StartReaper periodically returns claims stuck past the visibility
// timeout to the eligible pool, covering workers that crashed without
// settling their item.
func (c *Consumer) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				released, err := c.queue.ReapStale(ctx, c.visibilityTimeout)
				if err != nil {
					c.logger.Error("Reaper sweep failed", zap.Error(err))
					continue
				}
				if released > 0 {
					c.logger.Warn("Reaper released stale claims",
						zap.Int("released", released),
					)
				}
			}
		}
	}()
}
