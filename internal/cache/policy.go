package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// TTLPolicy maps each operation to its cache lifetime. Zero means the
// operation is not cached at all.
type TTLPolicy map[domain.Operation]time.Duration

// DefaultTTLPolicy reflects how reusable each result class is: chat context
// drifts quickly, embeddings and images are expensive and input-stable, and
// audio transcriptions are near-never repeated so caching them buys nothing.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		domain.OperationChat:          5 * time.Minute,
		domain.OperationCompletion:    15 * time.Minute,
		domain.OperationCode:          15 * time.Minute,
		domain.OperationEmbedding:     24 * time.Hour,
		domain.OperationImage:         24 * time.Hour,
		domain.OperationTranscription: 0,
	}
}

// Layer is the read-through/write-through cache the orchestrator composes
// around the provider call. Store failures degrade to a miss; caching is an
// optimization and must never fail the primary request.
type Layer struct {
	store  Store
	policy TTLPolicy
}

func NewLayer(store Store, policy TTLPolicy) *Layer {
	if policy == nil {
		policy = DefaultTTLPolicy()
	}
	return &Layer{store: store, policy: policy}
}

// TTL returns the configured lifetime for an operation.
func (l *Layer) TTL(op domain.Operation) time.Duration {
	return l.policy[op]
}

// Cacheable reports whether results of this operation are cached at all.
func (l *Layer) Cacheable(op domain.Operation) bool {
	return l.policy[op] > 0
}

// Get looks a result up and, on a hit, marks it cached. A backend failure
// is indistinguishable from a miss by design.
func (l *Layer) Get(ctx context.Context, key string) (*domain.Result, bool) {
	res, ok := l.store.Get(ctx, key)
	if !ok {
		return nil, false
	}

	res.Cached = true
	return res, true
}

// Put writes a result best-effort under the operation's TTL. Errors are
// logged only.
func (l *Layer) Put(ctx context.Context, key string, res *domain.Result) bool {
	ttl := l.policy[res.Operation]
	if ttl <= 0 {
		return false
	}

	if err := l.store.Set(ctx, key, res, ttl); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
		return false
	}
	return true
}

// Invalidate removes every entry for one operation type, or everything when
// op is empty. Administrative use.
func (l *Layer) Invalidate(ctx context.Context, op domain.Operation) (int, error) {
	prefix := GlobalPrefix()
	if op != "" {
		prefix = Prefix(op)
	}
	return l.store.DeletePrefix(ctx, prefix)
}

// WarmEntry is one pre-computed request/response pair loaded at startup to
// avoid cold-start latency on known common requests. Input is the semantic
// payload the gateway hashes: the prompt for completions, the message list
// for chat, the input list for embeddings.
type WarmEntry struct {
	Operation domain.Operation
	Input     any
	Options   domain.Options
	UserScope string
	Result    domain.Result
}

// Warm pre-populates the cache. Individual failures are logged and skipped.
func (l *Layer) Warm(ctx context.Context, entries []WarmEntry) int {
	loaded := 0
	for _, e := range entries {
		if !l.Cacheable(e.Operation) {
			continue
		}
		res := e.Result
		res.Operation = e.Operation
		key := Key(e.Operation, e.Input, e.Options, e.UserScope)
		if l.Put(ctx, key, &res) {
			loaded++
		}
	}

	if loaded > 0 {
		slog.Info("cache warmed", "entries", loaded)
	}
	return loaded
}
