// Package circuitbreaker shields the gateway from a failing backend by
// rejecting calls fast once consecutive failures cross a threshold.
//
// States: closed (calls pass), open (calls rejected), half-open (probing
// recovery with a limited number of calls).
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// Breaker is satisfied by the in-memory and Redis-backed implementations.
type Breaker interface {
	// Allow returns nil when a call may proceed, or ErrProviderUnavailable
	// when the circuit is open.
	Allow(ctx context.Context) error

	// RecordSuccess notes a successful call. Enough successes in half-open
	// close the circuit.
	RecordSuccess(ctx context.Context)

	// RecordFailure notes a failed call. Enough failures open the circuit.
	RecordFailure(ctx context.Context)

	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing recovery.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// InMemoryBreaker is the single-instance implementation.
type InMemoryBreaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	cfg         Config

	now func() time.Time
}

func NewInMemory(cfg Config) *InMemoryBreaker {
	return &InMemoryBreaker{
		state: StateClosed,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (b *InMemoryBreaker) Allow(ctx context.Context) error {
	b.mu.RLock()
	state := b.state
	lastFailure := b.lastFailure
	b.mu.RUnlock()

	switch state {
	case StateOpen:
		if b.now().Sub(lastFailure) > b.cfg.Timeout {
			b.mu.Lock()
			if b.state == StateOpen {
				b.state = StateHalfOpen
				b.successes = 0
			}
			b.mu.Unlock()
			return nil
		}
		return domain.ErrProviderUnavailable
	default:
		return nil
	}
}

func (b *InMemoryBreaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *InMemoryBreaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successes = 0
	}
}

func (b *InMemoryBreaker) State(ctx context.Context) State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker closed. Used by admin intervention.
func (b *InMemoryBreaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	return nil
}

func (b *InMemoryBreaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// Manager holds one breaker per backend, created lazily.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]Breaker
	cfg      Config
	factory  func(backend string) Breaker
}

type ManagerOption func(*Manager)

// WithRedisClient makes the manager create Redis-backed breakers sharing
// one client, so circuit state is consistent across gateway instances.
func WithRedisClient(client RedisScripter) ManagerOption {
	return func(m *Manager) {
		m.factory = func(backend string) Breaker {
			return NewRedisWithClient(client, backend, m.cfg)
		}
	}
}

func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]Breaker),
		cfg:      cfg,
		factory: func(string) Breaker {
			return NewInMemory(cfg)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the breaker for a backend, creating one on first use.
func (m *Manager) Get(backend string) Breaker {
	m.mu.RLock()
	b, ok := m.breakers[backend]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[backend]; ok {
		return b
	}
	b = m.factory(backend)
	m.breakers[backend] = b
	return b
}

// States reports the current state of every known breaker.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string, len(m.breakers))
	for backend, b := range m.breakers {
		states[backend] = b.State(ctx).String()
	}
	return states
}
