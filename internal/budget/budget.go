// Package budget enforces monthly spend caps. The pre-check runs before a
// provider is ever invoked: a request whose estimated cost would push the
// caller past their monthly budget is rejected outright. Threshold alerts
// (warning/critical/exceeded) fire once per level per caller, deduplicated
// across instances when Redis is available.
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/usage"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	UserID     string
	TenantID   string
	Level      AlertLevel
	BudgetUSD  float64
	CurrentUSD float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.8, Critical: 0.95}
}

// Status is the outcome of a budget pre-check.
type Status struct {
	Allowed      bool
	BudgetUSD    float64
	CurrentUSD   float64
	EstimatedUSD float64
	RemainingUSD float64
}

// Limiter performs the monthly cost-budget check against the usage log.
type Limiter struct {
	mu            sync.RWMutex
	tracker       usage.Tracker
	dedup         AlertDeduplicator
	thresholds    Thresholds
	alertHandlers []AlertHandler
	now           func() time.Time
}

func NewLimiter(tracker usage.Tracker, dedup AlertDeduplicator, thresholds Thresholds) *Limiter {
	if dedup == nil {
		dedup = NewInMemoryDeduplicator()
	}
	return &Limiter{
		tracker:    tracker,
		dedup:      dedup,
		thresholds: thresholds,
		now:        time.Now,
	}
}

func (l *Limiter) OnAlert(handler AlertHandler) {
	l.mu.Lock()
	l.alertHandlers = append(l.alertHandlers, handler)
	l.mu.Unlock()
}

// Check admits the request only if the month's spend plus the estimate
// stays within budget. A zero or negative budget means uncapped. Threshold
// alerts are evaluated on the post-admission spend as a side effect.
func (l *Limiter) Check(ctx context.Context, caller domain.Caller, budgetUSD, estimatedUSD float64) (Status, error) {
	if budgetUSD <= 0 {
		return Status{Allowed: true, EstimatedUSD: estimatedUSD}, nil
	}

	now := l.now()
	current, err := l.tracker.TotalCost(ctx, caller.UserID, usage.MonthStart(now), now)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		BudgetUSD:    budgetUSD,
		CurrentUSD:   current,
		EstimatedUSD: estimatedUSD,
		RemainingUSD: budgetUSD - current,
		Allowed:      current+estimatedUSD <= budgetUSD,
	}
	if st.RemainingUSD < 0 {
		st.RemainingUSD = 0
	}

	l.evaluateAlerts(ctx, caller, budgetUSD, current)

	return st, nil
}

func (l *Limiter) evaluateAlerts(ctx context.Context, caller domain.Caller, budgetUSD, current float64) {
	percentage := current / budgetUSD

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= l.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= l.thresholds.Warning:
		level = AlertLevelWarning
	default:
		l.dedup.ClearAlert(ctx, caller.UserID)
		return
	}

	if !l.dedup.ShouldAlert(ctx, caller.UserID, level) {
		return
	}

	alert := Alert{
		UserID:     caller.UserID,
		TenantID:   caller.TenantID,
		Level:      level,
		BudgetUSD:  budgetUSD,
		CurrentUSD: current,
		Percentage: percentage * 100,
		Timestamp:  l.now(),
	}

	l.mu.RLock()
	handlers := make([]AlertHandler, len(l.alertHandlers))
	copy(handlers, l.alertHandlers)
	l.mu.RUnlock()

	for _, handler := range handlers {
		handler(alert)
	}
}

func LogAlertHandler(alert Alert) {
	slog.Warn("budget alert",
		"user_id", alert.UserID,
		"level", alert.Level,
		"budget_usd", alert.BudgetUSD,
		"current_usd", alert.CurrentUSD,
		"percentage", alert.Percentage,
	)
}
