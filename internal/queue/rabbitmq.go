package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"alert-notifier/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitQueue is the broker-backed Queue. The work queue holds ready
// items; transient failures are republished onto a retry queue whose
// per-message TTL dead-letters them back into the work queue, which gives
// the same delayed-redelivery semantics as the document backend's
// available_at column.
//
// ReapStale is a no-op here: the broker itself returns unacked deliveries
// to the queue when the consumer's channel dies.
type RabbitQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	workQueue  string
	retryQueue string
	logger     *zap.Logger
}

type rabbitBody struct {
	RecordID string        `json:"record_id"`
	Source   models.Source `json:"source"`
}

func NewRabbitQueue(url, exchange, queueName string, logger *zap.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	q := &RabbitQueue{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		workQueue:  queueName,
		retryQueue: queueName + ".retry",
		logger:     logger,
	}
	if err := q.declare(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) declare() error {
	err := q.ch.ExchangeDeclare(
		q.exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %v", err)
	}

	if _, err := q.ch.QueueDeclare(q.workQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %v", err)
	}
	if err := q.ch.QueueBind(q.workQueue, q.workQueue, q.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %v", err)
	}

	// Retry queue: expired messages dead-letter back onto the work queue.
	_, err = q.ch.QueueDeclare(q.retryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    q.exchange,
		"x-dead-letter-routing-key": q.workQueue,
	})
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %v", err)
	}
	if err := q.ch.QueueBind(q.retryQueue, q.retryQueue, q.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind retry queue: %v", err)
	}
	return nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, recordID string, source models.Source) error {
	return q.publish(ctx, q.workQueue, recordID, source, 0, 0)
}

func (q *RabbitQueue) publish(ctx context.Context, routingKey, recordID string, source models.Source, attempts int, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(rabbitBody{RecordID: recordID, Source: source})
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %v", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"x-attempts": int32(attempts),
		},
	}
	if ttl > 0 {
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	if err := q.ch.PublishWithContext(ctx, q.exchange, routingKey, false, false, pub); err != nil {
		return fmt.Errorf("failed to publish work item: %v", err)
	}
	return nil
}

func (q *RabbitQueue) ClaimNext(_ context.Context) (*Item, error) {
	msg, ok, err := q.ch.Get(q.workQueue, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get from queue: %v", err)
	}
	if !ok {
		return nil, nil
	}

	var body rabbitBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		// Poison message; drop it so it cannot wedge the queue.
		q.logger.Error("Failed to unmarshal work item, discarding",
			zap.Error(err),
			zap.String("body", string(msg.Body)),
		)
		_ = msg.Nack(false, false)
		return nil, nil
	}

	attempts := 0
	if raw, found := msg.Headers["x-attempts"]; found {
		switch v := raw.(type) {
		case int32:
			attempts = int(v)
		case int64:
			attempts = int(v)
		}
	}

	return &Item{
		ID:          fmt.Sprintf("%s-%d", body.RecordID, msg.DeliveryTag),
		RecordID:    body.RecordID,
		Source:      body.Source,
		Attempts:    attempts,
		EnqueuedAt:  msg.Timestamp,
		AvailableAt: msg.Timestamp,
		receipt:     msg,
	}, nil
}

func (q *RabbitQueue) MarkDelivered(_ context.Context, item *Item) error {
	msg, ok := item.receipt.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("item %s has no broker receipt", item.ID)
	}
	return msg.Ack(false)
}

func (q *RabbitQueue) Reschedule(ctx context.Context, item *Item, delay time.Duration) error {
	msg, ok := item.receipt.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("item %s has no broker receipt", item.ID)
	}
	if err := q.publish(ctx, q.retryQueue, item.RecordID, item.Source, item.Attempts+1, delay); err != nil {
		// Keep the original unsettled so it is redelivered rather than lost.
		return err
	}
	return msg.Ack(false)
}

func (q *RabbitQueue) ReapStale(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (q *RabbitQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := q.conn.Close(); err != nil {
		q.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}

// Depth inspects the work queue's ready-message count.
func (q *RabbitQueue) Depth(_ context.Context) (int64, error) {
	state, err := q.ch.QueueInspect(q.workQueue)
	if err != nil {
		return 0, err
	}
	return int64(state.Messages), nil
}
