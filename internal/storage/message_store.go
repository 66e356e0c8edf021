package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alert-notifier/internal/messaging"
	"alert-notifier/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup matches no document. It wraps
// messaging.ErrNotFound so callers can classify it with a single check.
var ErrNotFound = messaging.ErrNotFound

// DeviceStore feeds the device-loss alert check.
type DeviceStore interface {
	ListOverLossThreshold(ctx context.Context, threshold float64) ([]models.Device, error)
}

type MongoMessageStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func NewMongoMessageStore(db *MongoDB, logger *zap.Logger) *MongoMessageStore {
	return &MongoMessageStore{coll: db.Collection(CollMessages), logger: logger}
}

func (s *MongoMessageStore) Insert(ctx context.Context, msg *messaging.Message) error {
	if msg.Status == "" {
		msg.Status = messaging.MessagePending
	}
	msg.CreatedAt = time.Now().UTC()

	res, err := s.coll.InsertOne(ctx, msg)
	if err != nil {
		s.logger.Error("Failed to insert message",
			zap.Error(err),
			zap.String("recipient", msg.RecipientPhone),
			zap.String("template", msg.Template),
		)
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

func (s *MongoMessageStore) FindByProviderMessageID(ctx context.Context, providerID string) (*messaging.Message, error) {
	var msg messaging.Message
	err := s.coll.FindOne(ctx, bson.M{"provider_message_id": providerID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("message %s: %w", providerID, ErrNotFound)
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateStatus persists a forward-only delivery transition together with
// its timestamp column. Transition validity is the caller's concern; the
// write itself guards against racing a terminal state.
func (s *MongoMessageStore) UpdateStatus(ctx context.Context, msg *messaging.Message, status messaging.MessageStatus, at time.Time) error {
	set := bson.M{"status": status}
	switch status {
	case messaging.MessageSent:
		set["sent_at"] = at
	case messaging.MessageDelivered:
		set["delivered_at"] = at
	case messaging.MessageRead:
		set["read_at"] = at
	case messaging.MessageFailed:
		set["failed_at"] = at
		if msg.ErrorDetail != "" {
			set["error_detail"] = msg.ErrorDetail
		}
	}
	if msg.ProviderMessageID != "" {
		set["provider_message_id"] = msg.ProviderMessageID
	}
	if msg.ProviderResponse != "" {
		set["provider_response"] = msg.ProviderResponse
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":    msg.ID,
			"status": bson.M{"$nin": bson.A{messaging.MessageRead, messaging.MessageFailed}},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %s already terminal: %w", msg.ID.Hex(), ErrInvalidTransition)
	}
	msg.Status = status
	return nil
}

type MongoDirectoryStore struct {
	groups     *mongo.Collection
	recipients *mongo.Collection
	templates  *mongo.Collection
}

func NewMongoDirectoryStore(db *MongoDB) *MongoDirectoryStore {
	return &MongoDirectoryStore{
		groups:     db.Collection(CollRecipientGroups),
		recipients: db.Collection(CollRecipients),
		templates:  db.Collection(CollTemplates),
	}
}

// GroupByName loads a recipient group and resolves its active members.
func (s *MongoDirectoryStore) GroupByName(ctx context.Context, name string) (*messaging.RecipientGroup, error) {
	var group messaging.RecipientGroup
	err := s.groups.FindOne(ctx, bson.M{"name": name}).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("recipient group %q: %w", name, ErrNotFound)
		}
		return nil, err
	}

	cursor, err := s.recipients.Find(ctx,
		bson.M{"groups": name, "active": true},
		options.Find().SetSort(bson.D{{Key: "phone", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, &group.Recipients); err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *MongoDirectoryStore) TemplateByName(ctx context.Context, name string) (*messaging.MessageTemplate, error) {
	var tpl messaging.MessageTemplate
	err := s.templates.FindOne(ctx, bson.M{"name": name, "active": true}).Decode(&tpl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &tpl, nil
}

type MongoDeviceStore struct {
	coll *mongo.Collection
}

func NewMongoDeviceStore(db *MongoDB) *MongoDeviceStore {
	return &MongoDeviceStore{coll: db.Collection(CollDevices)}
}

// ListOverLossThreshold returns devices whose latest packet-loss reading
// exceeds the threshold, ordered by code for deterministic fingerprints.
func (s *MongoDeviceStore) ListOverLossThreshold(ctx context.Context, threshold float64) ([]models.Device, error) {
	cursor, err := s.coll.Find(ctx,
		bson.M{"packet_loss_pct": bson.M{"$gt": threshold}},
		options.Find().SetSort(bson.D{{Key: "code", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var devices []models.Device
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}
