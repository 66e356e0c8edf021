package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names used by the pipeline.
const (
	CollWebhookRecords  = "webhook_records"
	CollQueueItems      = "queue_items"
	CollMessages        = "messages"
	CollRecipients      = "recipients"
	CollRecipientGroups = "recipient_groups"
	CollTemplates       = "templates"
	CollDevices         = "devices"
)

type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func NewMongoDB(uri, database string, logger *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to MongoDB",
		zap.String("database", database),
	)

	m := &MongoDB{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollWebhookRecords: {
			{Keys: bson.D{{Key: "source", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "processing_status", Value: 1}}},
			{Keys: bson.D{{Key: "external_message_id", Value: 1}}},
		},
		CollQueueItems: {
			{Keys: bson.D{{Key: "available_at", Value: 1}, {Key: "delivered_at", Value: 1}}},
			{Keys: bson.D{{Key: "claimed_at", Value: 1}}},
		},
		CollMessages: {
			{Keys: bson.D{{Key: "provider_message_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		CollRecipients: {
			{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "groups", Value: 1}}},
		},
		CollRecipientGroups: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollTemplates: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollDevices: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "packet_loss_pct", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

// Collection exposes a raw collection handle for the queue backend.
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
