package queue

import (
	"context"
	"errors"
	"time"

	"alert-notifier/internal/models"
	"alert-notifier/internal/storage"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoQueue is the default durable backend: one document per work item
// in a dedicated collection. Claiming is a single findOneAndUpdate, which
// MongoDB executes atomically, so a ready item is handed to at most one
// consumer.
type MongoQueue struct {
	coll   *mongo.Collection
	name   string
	logger *zap.Logger
}

type queueDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Queue       string             `bson:"queue"`
	RecordID    string             `bson:"record_id"`
	Source      models.Source      `bson:"source"`
	Attempts    int                `bson:"attempts"`
	EnqueuedAt  time.Time          `bson:"enqueued_at"`
	AvailableAt time.Time          `bson:"available_at"`
	ClaimedAt   *time.Time         `bson:"claimed_at,omitempty"`
	DeliveredAt *time.Time         `bson:"delivered_at,omitempty"`
}

func NewMongoQueue(db *storage.MongoDB, name string, logger *zap.Logger) *MongoQueue {
	return &MongoQueue{
		coll:   db.Collection(storage.CollQueueItems),
		name:   name,
		logger: logger,
	}
}

func (q *MongoQueue) Enqueue(ctx context.Context, recordID string, source models.Source) error {
	now := time.Now().UTC()
	_, err := q.coll.InsertOne(ctx, queueDoc{
		Queue:       q.name,
		RecordID:    recordID,
		Source:      source,
		EnqueuedAt:  now,
		AvailableAt: now,
	})
	if err != nil {
		q.logger.Error("Failed to enqueue work item",
			zap.Error(err),
			zap.String("record_id", recordID),
		)
	}
	return err
}

func (q *MongoQueue) ClaimNext(ctx context.Context) (*Item, error) {
	now := time.Now().UTC()

	var doc queueDoc
	err := q.coll.FindOneAndUpdate(ctx,
		bson.M{
			"queue":        q.name,
			"delivered_at": nil,
			"claimed_at":   nil,
			"available_at": bson.M{"$lte": now},
		},
		bson.M{"$set": bson.M{"claimed_at": now}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "enqueued_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}

	return &Item{
		ID:          doc.ID.Hex(),
		RecordID:    doc.RecordID,
		Source:      doc.Source,
		Attempts:    doc.Attempts,
		EnqueuedAt:  doc.EnqueuedAt,
		AvailableAt: doc.AvailableAt,
		receipt:     doc.ID,
	}, nil
}

func (q *MongoQueue) MarkDelivered(ctx context.Context, item *Item) error {
	oid, err := q.docID(item)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = q.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"delivered_at": now}},
	)
	return err
}

func (q *MongoQueue) Reschedule(ctx context.Context, item *Item, delay time.Duration) error {
	oid, err := q.docID(item)
	if err != nil {
		return err
	}
	_, err = q.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$set": bson.M{
				"claimed_at":   nil,
				"available_at": time.Now().UTC().Add(delay),
			},
			"$inc": bson.M{"attempts": 1},
		},
	)
	return err
}

// ReapStale returns claims held past the visibility timeout to the
// eligible pool. The worker runs this as a periodic sweep so a crashed
// consumer cannot strand items forever.
func (q *MongoQueue) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := q.coll.UpdateMany(ctx,
		bson.M{
			"queue":        q.name,
			"delivered_at": nil,
			"claimed_at":   bson.M{"$ne": nil, "$lt": cutoff},
		},
		bson.M{"$set": bson.M{"claimed_at": nil}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (q *MongoQueue) Close() error { return nil }

// Depth counts undelivered items for the queue depth metric.
func (q *MongoQueue) Depth(ctx context.Context) (int64, error) {
	return q.coll.CountDocuments(ctx, bson.M{"queue": q.name, "delivered_at": nil})
}

func (q *MongoQueue) docID(item *Item) (primitive.ObjectID, error) {
	if oid, ok := item.receipt.(primitive.ObjectID); ok {
		return oid, nil
	}
	return primitive.ObjectIDFromHex(item.ID)
}
