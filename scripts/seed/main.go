// Seeds the messaging directory (recipients, groups, templates) and a
// handful of fleet devices so a fresh environment can exercise the full
// notification path. Safe to re-run: every write is an upsert keyed on
// the natural identifier.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"alert-notifier/internal/messaging"
	"alert-notifier/internal/models"
	"alert-notifier/internal/storage"
)

const defaultDatabase = "alert_notifier"

func main() {
	_ = godotenv.Load()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		log.Fatal("MONGODB_URI is required")
	}
	database := os.Getenv("MONGODB_DATABASE")
	if database == "" {
		database = defaultDatabase
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(database)

	seedRecipients(ctx, db.Collection(storage.CollRecipients))
	seedGroups(ctx, db.Collection(storage.CollRecipientGroups))
	seedTemplates(ctx, db.Collection(storage.CollTemplates))
	seedDevices(ctx, db.Collection(storage.CollDevices))

	log.Println("Seed completed")
}

func seedRecipients(ctx context.Context, coll *mongo.Collection) {
	recipients := []messaging.Recipient{
		{Phone: "56972126016", Name: "Ops Primary", Active: true, Groups: []string{"operations"}},
		{Phone: "56998811223", Name: "Ops Secondary", Active: true, Groups: []string{"operations"}},
		{Phone: "56977665544", Name: "Field Supervisor", Active: false, Groups: []string{"operations"}},
	}
	for _, r := range recipients {
		upsert(ctx, coll, bson.M{"phone": r.Phone}, bson.M{
			"phone":  r.Phone,
			"name":   r.Name,
			"active": r.Active,
			"groups": r.Groups,
		})
	}
	log.Printf("Seeded %d recipients", len(recipients))
}

func seedGroups(ctx context.Context, coll *mongo.Collection) {
	upsert(ctx, coll, bson.M{"name": "operations"}, bson.M{"name": "operations"})
	log.Println("Seeded recipient group operations")
}

func seedTemplates(ctx context.Context, coll *mongo.Collection) {
	templates := []messaging.MessageTemplate{
		{Name: "critical_alert", Language: "es", ParamCount: 4, Active: true},
		{Name: "device_report", Language: "es", ParamCount: 2, Active: true},
	}
	for _, t := range templates {
		upsert(ctx, coll, bson.M{"name": t.Name}, bson.M{
			"name":        t.Name,
			"language":    t.Language,
			"param_count": t.ParamCount,
			"active":      t.Active,
		})
	}
	log.Printf("Seeded %d templates", len(templates))
}

func seedDevices(ctx context.Context, coll *mongo.Collection) {
	now := time.Now().UTC()
	devices := []models.Device{
		{Code: "DEV-001", Name: "Gate Camera North", ConcessionCode: "C-12", PacketLossPct: 2.5, LastSeenAt: now},
		{Code: "DEV-002", Name: "Toll Sensor East", ConcessionCode: "C-12", PacketLossPct: 35.0, LastSeenAt: now},
		{Code: "DEV-003", Name: "Gate Camera South", ConcessionCode: "C-14", PacketLossPct: 0.0, LastSeenAt: now},
	}
	for _, d := range devices {
		upsert(ctx, coll, bson.M{"code": d.Code}, bson.M{
			"code":            d.Code,
			"name":            d.Name,
			"concession_code": d.ConcessionCode,
			"packet_loss_pct": d.PacketLossPct,
			"last_seen_at":    d.LastSeenAt,
		})
	}
	log.Printf("Seeded %d devices", len(devices))
}

func upsert(ctx context.Context, coll *mongo.Collection, filter, doc bson.M) {
	_, err := coll.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		log.Fatalf("Upsert into %s failed: %v", coll.Name(), err)
	}
}
