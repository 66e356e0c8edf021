package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Device is a monitored fleet device with its latest packet-loss reading.
// The device-loss alert check scans this collection for devices exceeding
// the configured loss threshold.
type Device struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code           string             `bson:"code" json:"code"`
	Name           string             `bson:"name" json:"name"`
	ConcessionCode string             `bson:"concession_code,omitempty" json:"concession_code,omitempty"`
	PacketLossPct  float64            `bson:"packet_loss_pct" json:"packet_loss_pct"`
	LastSeenAt     time.Time          `bson:"last_seen_at" json:"last_seen_at"`
}
