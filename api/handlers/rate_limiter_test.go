package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerSourceWindows(t *testing.T) {
	rl := NewRateLimiter(2)

	assert.True(t, rl.AllowRequest("alertmanager"))
	assert.True(t, rl.AllowRequest("alertmanager"))
	assert.False(t, rl.AllowRequest("alertmanager"))

	// Another source has its own window.
	assert.True(t, rl.AllowRequest("grafana"))
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(1)

	assert.True(t, rl.AllowRequest("alertmanager"))
	assert.False(t, rl.AllowRequest("alertmanager"))

	// Age the window out.
	w := rl.windows["alertmanager"]
	w.windowFrom = w.windowFrom.Add(-2 * time.Minute)

	assert.True(t, rl.AllowRequest("alertmanager"))
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.Equal(t, 600, rl.perMinute)
}
