// Package dedup suppresses redundant alert notifications. A periodic
// scan can re-fire every cycle with an unchanged affected-entity set;
// the gate fingerprints the set and only lets a notification through
// when the fingerprint differs from the last one seen.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "alert:fingerprint:"

// Store is the key-value slot holding the last fingerprint per alert
// type. Injected so the backing cache is swappable.
type Store interface {
	// Get returns the stored fingerprint, or "" when none exists.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisStore backs the fingerprint slot with Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("reading fingerprint %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("writing fingerprint %s: %w", key, err)
	}
	return nil
}

// Fingerprint digests a set of affected-entity identifiers. The set is
// sorted before hashing so the result is order-independent. MD5 is fine
// here: this is content addressing over trusted input, not security.
func Fingerprint(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	sum := md5.Sum([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

// Gate is the deduplication decision point. One Gate serves many alert
// types; the key scopes the fingerprint slot.
type Gate struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewGate(store Store, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Gate{store: store, ttl: ttl, logger: logger}
}

// ShouldNotify compares the current affected-entity set against the last
// notified one. It returns true and records the new fingerprint when the
// set changed (including the no-previous-fingerprint case); it returns
// false when the set is unchanged or empty. An empty set never touches
// the cache.
//
// The guarantee is at-most-once per state change, not exactly-once: two
// evaluators racing on the same key can both observe a change and both
// send. Duplicate over silence is the accepted tradeoff.
func (g *Gate) ShouldNotify(ctx context.Context, key string, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}

	current := Fingerprint(ids)
	previous, err := g.store.Get(ctx, key)
	if err != nil {
		return false, err
	}

	if previous == current {
		g.logger.Info("Alert state unchanged, suppressing notification",
			zap.String("key", key),
			zap.String("fingerprint", current),
			zap.Int("affected", len(ids)),
		)
		return false, nil
	}

	if err := g.store.Set(ctx, key, current, g.ttl); err != nil {
		return false, err
	}

	g.logger.Info("Alert state changed",
		zap.String("key", key),
		zap.String("fingerprint", current),
		zap.String("previous", previous),
		zap.Int("affected", len(ids)),
	)
	return true, nil
}
