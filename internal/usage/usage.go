// Package usage is the gateway's accountant. Every completed or failed
// request becomes exactly one append-only Record; totals are always
// recomputed over ranges of the raw log rather than kept as running
// counters, which would drift under retries and corrections.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// Record is one immutable accounting row. Failed requests are recorded with
// zero completion tokens and the error code that terminated them.
type Record struct {
	RequestID        string           `json:"request_id"`
	UserID           string           `json:"user_id"`
	TenantID         string           `json:"tenant_id,omitempty"`
	Provider         string           `json:"provider"`
	Model            string           `json:"model"`
	Operation        domain.Operation `json:"operation"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	CostUSD          float64          `json:"cost_usd"`
	LatencyMs        int64            `json:"latency_ms"`
	Cached           bool             `json:"cached"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

func (r Record) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Tracker is the append-only usage log. Range queries are half-open:
// [from, to).
type Tracker interface {
	Record(ctx context.Context, rec Record) error
	Range(ctx context.Context, userID string, from, to time.Time) ([]Record, error)
	TotalCost(ctx context.Context, userID string, from, to time.Time) (float64, error)
	TotalTokens(ctx context.Context, userID string, from, to time.Time) (int64, error)
}

// MonthStart returns the start of the calendar month containing t, in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// InMemoryTracker keeps the log in process memory. Suitable for tests and
// single-instance development.
type InMemoryTracker struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{}
}

func (t *InMemoryTracker) Record(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()
	return nil
}

func (t *InMemoryTracker) Range(ctx context.Context, userID string, from, to time.Time) ([]Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, r := range t.records {
		if r.UserID == userID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *InMemoryTracker) TotalCost(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	recs, _ := t.Range(ctx, userID, from, to)

	var total float64
	for _, r := range recs {
		total += r.CostUSD
	}
	return total, nil
}

func (t *InMemoryTracker) TotalTokens(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	recs, _ := t.Range(ctx, userID, from, to)

	var total int64
	for _, r := range recs {
		total += int64(r.TotalTokens())
	}
	return total, nil
}
