package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGate(t *testing.T) (*Gate, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewGate(NewRedisStore(client), time.Hour, zap.NewNop()), mr
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := Fingerprint([]string{"DEV-001", "DEV-002", "DEV-003"})
	b := Fingerprint([]string{"DEV-003", "DEV-001", "DEV-002"})
	assert.Equal(t, a, b)

	c := Fingerprint([]string{"DEV-001", "DEV-002"})
	assert.NotEqual(t, a, c)
}

func TestFingerprintDoesNotMutateInput(t *testing.T) {
	ids := []string{"c", "a", "b"}
	Fingerprint(ids)
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestShouldNotifyFirstEvaluation(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	notify, err := gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	assert.True(t, notify, "first evaluation of a set must notify")
}

func TestShouldNotifySuppressesUnchangedSet(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	notify, err := gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001", "DEV-002"})
	require.NoError(t, err)
	require.True(t, notify)

	// Same set, different order: still suppressed.
	notify, err = gate.ShouldNotify(ctx, "device-loss", []string{"DEV-002", "DEV-001"})
	require.NoError(t, err)
	assert.False(t, notify)
}

func TestShouldNotifyFiresOnChangedSet(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	notify, err := gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	require.True(t, notify)

	notify, err = gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001", "DEV-002"})
	require.NoError(t, err)
	assert.True(t, notify, "a grown affected set is a state change")

	// Shrinking back is a change too.
	notify, err = gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	assert.True(t, notify)
}

func TestShouldNotifyEmptySetLeavesCacheAlone(t *testing.T) {
	gate, mr := newTestGate(t)
	ctx := context.Background()

	notify, err := gate.ShouldNotify(ctx, "device-loss", nil)
	require.NoError(t, err)
	assert.False(t, notify)
	assert.Empty(t, mr.Keys(), "empty evaluation must not touch the cache")

	// A stored fingerprint survives an empty evaluation, so recovery
	// followed by relapse into the same set stays suppressed.
	notify, err = gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	require.True(t, notify)

	notify, err = gate.ShouldNotify(ctx, "device-loss", nil)
	require.NoError(t, err)
	assert.False(t, notify)

	notify, err = gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	assert.False(t, notify)
}

func TestShouldNotifyKeysAreScoped(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	notify, err := gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	require.True(t, notify)

	// Same set under a different alert type has its own slot.
	notify, err = gate.ShouldNotify(ctx, "link-down", []string{"DEV-001"})
	require.NoError(t, err)
	assert.True(t, notify)
}

func TestShouldNotifyAfterTTLExpiry(t *testing.T) {
	gate, mr := newTestGate(t)
	ctx := context.Background()

	notify, err := gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	require.True(t, notify)

	mr.FastForward(2 * time.Hour)

	// Expired fingerprint reads as absent, so the same set re-fires.
	notify, err = gate.ShouldNotify(ctx, "device-loss", []string{"DEV-001"})
	require.NoError(t, err)
	assert.True(t, notify)
}
