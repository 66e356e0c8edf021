package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"alert-notifier/internal/models"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue used by tests and local runs. It
// implements the same visibility and claim semantics as the durable
// backends.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	now   func() time.Time
}

type memoryItem struct {
	item      Item
	claimedAt *time.Time
	delivered bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[string]*memoryItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, recordID string, source models.Source) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	id := uuid.NewString()
	q.items[id] = &memoryItem{
		item: Item{
			ID:          id,
			RecordID:    recordID,
			Source:      source,
			EnqueuedAt:  now,
			AvailableAt: now,
		},
	}
	return nil
}

func (q *MemoryQueue) ClaimNext(_ context.Context) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var ready []*memoryItem
	for _, mi := range q.items {
		if mi.delivered || mi.claimedAt != nil || mi.item.AvailableAt.After(now) {
			continue
		}
		ready = append(ready, mi)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].item.EnqueuedAt.Before(ready[j].item.EnqueuedAt)
	})

	mi := ready[0]
	mi.claimedAt = &now
	claimed := mi.item
	claimed.receipt = mi.item.ID
	return &claimed, nil
}

func (q *MemoryQueue) MarkDelivered(_ context.Context, item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if mi, ok := q.items[item.ID]; ok {
		mi.delivered = true
	}
	return nil
}

func (q *MemoryQueue) Reschedule(_ context.Context, item *Item, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	mi, ok := q.items[item.ID]
	if !ok {
		return nil
	}
	mi.claimedAt = nil
	mi.item.Attempts++
	mi.item.AvailableAt = q.now().Add(delay)
	return nil
}

func (q *MemoryQueue) ReapStale(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	released := 0
	for _, mi := range q.items {
		if mi.delivered || mi.claimedAt == nil {
			continue
		}
		if mi.claimedAt.Before(cutoff) {
			mi.claimedAt = nil
			released++
		}
	}
	return released, nil
}

func (q *MemoryQueue) Close() error { return nil }

// Depth reports how many undelivered items the queue holds. Used by the
// queue depth metric and by tests.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, mi := range q.items {
		if !mi.delivered {
			n++
		}
	}
	return n
}
