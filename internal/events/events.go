// Package events implements the gateway's fire-and-forget lifecycle event
// bus. Publishing is non-blocking: a slow or failing subscriber can never
// add latency to the request path. Delivery is at-least-once to each
// subscriber while the process is up; events are dropped, and counted, when
// the bounded queue is full.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

type Type string

const (
	TypeRequested Type = "REQUESTED"
	TypeCompleted Type = "COMPLETED"
	TypeFailed    Type = "FAILED"

	TypeCacheHit  Type = "CACHE_HIT"
	TypeCacheMiss Type = "CACHE_MISS"
	TypeCacheSet  Type = "CACHE_SET"

	TypeRateLimitWarning   Type = "RATE_LIMIT_WARNING"
	TypeUsageLimitWarning  Type = "USAGE_LIMIT_WARNING"
	TypeUsageLimitExceeded Type = "USAGE_LIMIT_EXCEEDED"

	TypeProviderError       Type = "PROVIDER_ERROR"
	TypeProviderRateLimited Type = "PROVIDER_RATE_LIMITED"
	TypeProviderUnavailable Type = "PROVIDER_UNAVAILABLE"

	TypeAPIKeyExpired      Type = "API_KEY_EXPIRED"
	TypeAPIKeyUsageWarning Type = "API_KEY_USAGE_WARNING"
)

// Event is one lifecycle occurrence. RequestID correlates the REQUESTED
// event with its terminal COMPLETED or FAILED counterpart.
type Event struct {
	Type      Type             `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	TenantID  string           `json:"tenant_id,omitempty"`
	Operation domain.Operation `json:"operation,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	At        time.Time        `json:"at"`
	Data      map[string]any   `json:"data,omitempty"`
}

type Subscriber func(Event)

// Bus fans events out to subscribers from a single dispatch goroutine,
// preserving publish order per bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	queue       chan Event
	done        chan struct{}
	closeOnce   sync.Once
	dropped     atomic.Int64
}

// NewBus creates a bus with the given queue depth and starts its
// dispatcher.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	b := &Bus{
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for every subsequent event. Handlers run on
// the dispatch goroutine; long-running subscribers should hand off.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
}

// Publish enqueues an event without blocking. If the queue is full the
// event is dropped and the drop counter incremented.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	select {
	case b.queue <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to a full queue.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the dispatcher after draining queued events.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.queue)
		<-b.done
	})
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for e := range b.queue {
		b.mu.RLock()
		subs := b.subscribers
		b.mu.RUnlock()

		for _, s := range subs {
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("event subscriber panicked", "type", e.Type, "panic", r)
					}
				}()
				s(e)
			}()
		}
	}
}
