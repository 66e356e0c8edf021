package queue

import (
	"context"
	"time"

	"alert-notifier/internal/models"
)

// Item is one unit of deferred webhook processing work. The body is
// deliberately minimal: the webhook record id plus its source; the
// consumer re-fetches the full record from the audit store.
type Item struct {
	ID          string
	RecordID    string
	Source      models.Source
	Attempts    int
	EnqueuedAt  time.Time
	AvailableAt time.Time

	// receipt carries backend-specific claim state (delivery tags,
	// document ids) between ClaimNext and the settlement calls.
	receipt any
}

// Queue decouples the HTTP-facing webhook receiver from the slower,
// failure-prone processing stage. An item is visible to consumers only
// once its availability time has passed and no consumer holds a claim on
// it; claiming is atomic, so at most one consumer processes a given item
// at a time.
//
// Settlement contract: every claimed item must end in exactly one of
// MarkDelivered (done, success or terminal failure) or Reschedule
// (transient failure, redelivered after the delay with the attempt count
// incremented). A consumer crash settles nothing; ReapStale returns such
// orphaned claims to the eligible pool.
type Queue interface {
	Enqueue(ctx context.Context, recordID string, source models.Source) error
	// ClaimNext returns the next ready item, or nil when none is ready.
	ClaimNext(ctx context.Context) (*Item, error)
	MarkDelivered(ctx context.Context, item *Item) error
	Reschedule(ctx context.Context, item *Item, delay time.Duration) error
	// ReapStale releases claims older than the visibility timeout and
	// reports how many were released.
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}
