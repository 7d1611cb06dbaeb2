// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit provides per-identity sliding-window admission control
// for write endpoints. State is in-memory and process-local.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/pdiddy/review-engine/pkg/types"
)

// ErrRateLimited is returned by Admit when the key's window is full.
var ErrRateLimited = errors.New("rate limit exceeded")

const (
	DefaultLimit   = 10
	DefaultWindow  = 60 * time.Second
	DefaultCeiling = 1000
)

// Limiter admits at most Limit calls per key within a trailing Window.
// A single mutex guards all windows.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	ceiling int
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a Limiter from cfg, filling zero fields with defaults.
func New(cfg types.RateLimitConfig) *Limiter {
	l := &Limiter{
		limit:   cfg.Limit,
		window:  cfg.Window,
		ceiling: cfg.Ceiling,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
	if l.limit <= 0 {
		l.limit = DefaultLimit
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.ceiling <= 0 {
		l.ceiling = DefaultCeiling
	}
	if l.ceiling < l.limit {
		l.ceiling = l.limit
	}
	return l
}

// Key joins a client identity and a route into a window key.
func Key(identity, route string) string {
	return identity + ":" + route
}

// Window returns the trailing window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Admit records a call for identity on route. It returns ErrRateLimited
// without recording when the window already holds Limit calls.
func (l *Limiter) Admit(identity, route string) error {
	key := Key(identity, route)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	q := purge(l.windows[key], now.Add(-l.window))
	if len(q) >= l.limit {
		l.windows[key] = q
		return ErrRateLimited
	}
	q = append(q, now)
	if len(q) > l.ceiling {
		q = q[len(q)-l.ceiling:]
	}
	l.windows[key] = q
	return nil
}

// Len reports how many timestamps are held for identity on route.
func (l *Limiter) Len(identity, route string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows[Key(identity, route)])
}

// Prune drops keys whose windows have fully elapsed.
func (l *Limiter) Prune() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, q := range l.windows {
		if q = purge(q, cutoff); len(q) == 0 {
			delete(l.windows, k)
		} else {
			l.windows[k] = q
		}
	}
}

// purge removes timestamps older than cutoff from the front of q.
func purge(q []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(q) && q[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return q
	}
	return append(q[:0:0], q[i:]...)
}
