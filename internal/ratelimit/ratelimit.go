// Package ratelimit provides sliding-window admission control. A scope's
// event timestamps form an ordered set; every check prunes entries older
// than the window, counts survivors, and only inserts when under the limit,
// so a rejected request never consumes allowance.
// Supports both in-memory (single instance) and Redis (distributed) backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Scope identifies the window a request is counted against.
type Scope struct {
	Operation string
	UserID    string
	TenantID  string
}

// Key renders the scope's storage key.
func (s Scope) Key() string {
	key := "ratelimit:" + s.Operation + ":" + s.UserID
	if s.TenantID != "" {
		key += ":" + s.TenantID
	}
	return key
}

// Decision is the outcome of a window check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter is the admission-control interface. Allow is atomic with respect
// to concurrent callers on the same scope up to the backing store's
// guarantees; two racing requests may both be admitted if both observe the
// pre-insert count, a bounded over-admission of one request per race.
type Limiter interface {
	Allow(ctx context.Context, scope Scope, limit int, window time.Duration) (Decision, error)

	// Reset clears a scope's window immediately. Administrative use.
	Reset(ctx context.Context, scope Scope) error
}

// InMemoryLimiter keeps per-scope ordered timestamp sets under one mutex.
// Suitable for single-instance deployments.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, scope Scope, limit int, window time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := scope.Key()
	now := l.now()
	windowStart := now.Add(-window)

	events := l.windows[key]

	// Prune everything older than the window. Events are appended in time
	// order, so the first surviving index bounds the rest.
	keep := 0
	for keep < len(events) && !events[keep].After(windowStart) {
		keep++
	}
	events = events[keep:]

	if len(events) >= limit {
		oldest := events[0]
		retryAfter := oldest.Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.windows[key] = events
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    oldest.Add(window),
		}, nil
	}

	events = append(events, now)
	l.windows[key] = events

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(events),
		ResetAt:   events[0].Add(window),
	}, nil
}

func (l *InMemoryLimiter) Reset(ctx context.Context, scope Scope) error {
	l.mu.Lock()
	delete(l.windows, scope.Key())
	l.mu.Unlock()
	return nil
}

// LowRemaining reports whether a decision is inside the soft-warning band
// (fewer than 20% of the limit left).
func LowRemaining(d Decision) bool {
	if !d.Allowed || d.Limit <= 0 {
		return false
	}
	return d.Remaining*5 < d.Limit
}
