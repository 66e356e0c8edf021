package handlers

import (
	"sync"
	"time"
)

// RateLimiter bounds ingestion per source with a fixed one-minute
// window. A misbehaving producer repeating the same webhook cannot flood
// the queue; everything over the limit is rejected at the door.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*sourceWindow
	perMinute int
}

type sourceWindow struct {
	count      int
	windowFrom time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	return &RateLimiter{
		windows:   make(map[string]*sourceWindow),
		perMinute: perMinute,
	}
}

func (rl *RateLimiter) AllowRequest(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UTC()
	w, exists := rl.windows[source]
	if !exists || now.Sub(w.windowFrom) >= time.Minute {
		rl.windows[source] = &sourceWindow{count: 1, windowFrom: now}
		return true
	}

	if w.count >= rl.perMinute {
		return false
	}
	w.count++
	return true
}
