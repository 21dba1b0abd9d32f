package usage

import (
	"context"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// QuotaStatus is the outcome of the monthly token pre-check.
type QuotaStatus struct {
	Limit   int64
	Used    int64
	Warning bool // used >= 80% of limit
	Blocked bool // used >= limit
}

// warnRatio is the fraction of the monthly token limit at which a usage
// warning fires.
const warnRatio = 0.8

// QuotaChecker compares cumulative monthly tokens against an entitlement
// limit. The month total is recomputed from the log on each check.
type QuotaChecker struct {
	tracker Tracker
	now     func() time.Time
}

func NewQuotaChecker(tracker Tracker) *QuotaChecker {
	return &QuotaChecker{tracker: tracker, now: time.Now}
}

// Check returns the caller's quota status for the current month. A zero or
// negative limit means unlimited.
func (q *QuotaChecker) Check(ctx context.Context, caller domain.Caller, limit int64) (QuotaStatus, error) {
	if limit <= 0 {
		return QuotaStatus{Limit: limit}, nil
	}

	now := q.now()
	used, err := q.tracker.TotalTokens(ctx, caller.UserID, MonthStart(now), now)
	if err != nil {
		return QuotaStatus{}, err
	}

	return QuotaStatus{
		Limit:   limit,
		Used:    used,
		Warning: float64(used) >= warnRatio*float64(limit),
		Blocked: used >= limit,
	}, nil
}

// MonthCost returns the caller's spend so far this month.
func (q *QuotaChecker) MonthCost(ctx context.Context, caller domain.Caller) (float64, error) {
	now := q.now()
	return q.tracker.TotalCost(ctx, caller.UserID, MonthStart(now), now)
}
