package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alert-notifier/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when a lifecycle write would move a
// webhook record out of a state it must not leave.
var ErrInvalidTransition = errors.New("invalid processing status transition")

// WebhookStore is the only write path to the append-only webhook audit
// trail. Records are created once and mutated exclusively through the
// lifecycle transitions below; nothing ever deletes them.
type WebhookStore interface {
	LogIncoming(ctx context.Context, rec *models.WebhookRecord) error
	MarkProcessing(ctx context.Context, rec *models.WebhookRecord) error
	MarkCompleted(ctx context.Context, rec *models.WebhookRecord, result *models.ProcessingResult) error
	MarkFailed(ctx context.Context, rec *models.WebhookRecord, reason string, partial *models.ProcessingResult) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.WebhookRecord, error)
}

type MongoWebhookStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func NewMongoWebhookStore(db *MongoDB, logger *zap.Logger) *MongoWebhookStore {
	return &MongoWebhookStore{
		coll:   db.Collection(CollWebhookRecords),
		logger: logger,
	}
}

// LogIncoming persists a new audit record. The caller has already filled
// in the request capture fields; this sets the timestamp, defaults the
// status and assigns the identity.
func (s *MongoWebhookStore) LogIncoming(ctx context.Context, rec *models.WebhookRecord) error {
	if rec.ProcessingStatus == "" {
		rec.ProcessingStatus = models.StatusReceived
	}
	rec.CreatedAt = time.Now().UTC()

	res, err := s.coll.InsertOne(ctx, rec)
	if err != nil {
		s.logger.Error("Failed to insert webhook record",
			zap.Error(err),
			zap.String("source", string(rec.Source)),
		)
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		rec.ID = oid
	}
	return nil
}

// MarkProcessing transitions the record into processing. Allowed from
// received, from processing (crash redelivery) and from failed (transient
// failure redelivery); completed is strictly terminal.
func (s *MongoWebhookStore) MarkProcessing(ctx context.Context, rec *models.WebhookRecord) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":               rec.ID,
			"processing_status": bson.M{"$ne": models.StatusCompleted},
		},
		bson.M{"$set": bson.M{
			"processing_status": models.StatusProcessing,
			"retry_count":       rec.RetryCount,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", rec.ID.Hex(), ErrInvalidTransition)
	}
	rec.ProcessingStatus = models.StatusProcessing
	return nil
}

// MarkCompleted finishes the record successfully. Only valid from
// processing.
func (s *MongoWebhookStore) MarkCompleted(ctx context.Context, rec *models.WebhookRecord, result *models.ProcessingResult) error {
	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":               rec.ID,
			"processing_status": models.StatusProcessing,
		},
		bson.M{"$set": bson.M{
			"processing_status": models.StatusCompleted,
			"processing_result": result,
			"processed_at":      now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", rec.ID.Hex(), ErrInvalidTransition)
	}
	rec.ProcessingStatus = models.StatusCompleted
	rec.ProcessingResult = result
	rec.ProcessedAt = &now
	return nil
}

// MarkFailed finishes the record with an error, keeping whatever partial
// result was accumulated before the failure. Only valid from processing.
func (s *MongoWebhookStore) MarkFailed(ctx context.Context, rec *models.WebhookRecord, reason string, partial *models.ProcessingResult) error {
	now := time.Now().UTC()
	set := bson.M{
		"processing_status": models.StatusFailed,
		"error_message":     reason,
		"processed_at":      now,
	}
	if partial != nil {
		set["processing_result"] = partial
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":               rec.ID,
			"processing_status": models.StatusProcessing,
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", rec.ID.Hex(), ErrInvalidTransition)
	}
	rec.ProcessingStatus = models.StatusFailed
	rec.ErrorMessage = reason
	rec.ProcessingResult = partial
	rec.ProcessedAt = &now
	return nil
}

func (s *MongoWebhookStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.WebhookRecord, error) {
	var rec models.WebhookRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("webhook record %s: %w", id.Hex(), ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}
