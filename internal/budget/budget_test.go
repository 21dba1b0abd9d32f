package budget

import (
	"context"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/usage"
)

func seedCost(t *testing.T, tr usage.Tracker, userID string, costUSD float64) {
	t.Helper()
	err := tr.Record(context.Background(), usage.Record{
		UserID:    userID,
		CostUSD:   costUSD,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLimiter_AllowsWithinBudget(t *testing.T) {
	tr := usage.NewInMemoryTracker()
	l := NewLimiter(tr, nil, DefaultThresholds())
	caller := domain.Caller{UserID: "u1"}

	seedCost(t, tr, "u1", 3.0)

	st, err := l.Check(context.Background(), caller, 10.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Allowed {
		t.Error("expected admission within budget")
	}
	if st.RemainingUSD != 7.0 {
		t.Errorf("expected remaining 7.0, got %f", st.RemainingUSD)
	}
}

func TestLimiter_RejectsWhenEstimateOverflowsBudget(t *testing.T) {
	tr := usage.NewInMemoryTracker()
	l := NewLimiter(tr, nil, DefaultThresholds())
	caller := domain.Caller{UserID: "u1"}

	seedCost(t, tr, "u1", 9.5)

	st, err := l.Check(context.Background(), caller, 10.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Allowed {
		t.Error("expected rejection when estimate pushes past budget")
	}
}

func TestLimiter_ZeroBudgetUncapped(t *testing.T) {
	tr := usage.NewInMemoryTracker()
	l := NewLimiter(tr, nil, DefaultThresholds())

	seedCost(t, tr, "u1", 1e6)

	st, err := l.Check(context.Background(), domain.Caller{UserID: "u1"}, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Allowed {
		t.Error("zero budget must mean uncapped")
	}
}

func TestLimiter_AlertLevels(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		want    AlertLevel
	}{
		{"warning", 8.0, AlertLevelWarning},
		{"critical", 9.6, AlertLevelCritical},
		{"exceeded", 10.5, AlertLevelExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := usage.NewInMemoryTracker()
			l := NewLimiter(tr, nil, DefaultThresholds())

			var alerts []Alert
			l.OnAlert(func(a Alert) { alerts = append(alerts, a) })

			seedCost(t, tr, "u1", tt.current)
			l.Check(context.Background(), domain.Caller{UserID: "u1"}, 10.0, 0.01)

			if len(alerts) != 1 {
				t.Fatalf("expected 1 alert, got %d", len(alerts))
			}
			if alerts[0].Level != tt.want {
				t.Errorf("expected level %s, got %s", tt.want, alerts[0].Level)
			}
		})
	}
}

func TestLimiter_AlertFiresOncePerLevel(t *testing.T) {
	tr := usage.NewInMemoryTracker()
	l := NewLimiter(tr, nil, DefaultThresholds())
	caller := domain.Caller{UserID: "u1"}

	var alerts []Alert
	l.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	seedCost(t, tr, "u1", 8.5)
	l.Check(context.Background(), caller, 10.0, 0.01)
	l.Check(context.Background(), caller, 10.0, 0.01)

	if len(alerts) != 1 {
		t.Fatalf("expected dedup to one warning alert, got %d", len(alerts))
	}

	// Crossing into a new level re-fires.
	seedCost(t, tr, "u1", 1.2)
	l.Check(context.Background(), caller, 10.0, 0.01)

	if len(alerts) != 2 {
		t.Fatalf("expected a second alert at the critical level, got %d", len(alerts))
	}
	if alerts[1].Level != AlertLevelCritical {
		t.Errorf("expected critical, got %s", alerts[1].Level)
	}
}

func TestInMemoryDeduplicator(t *testing.T) {
	d := NewInMemoryDeduplicator()
	ctx := context.Background()

	if !d.ShouldAlert(ctx, "u1", AlertLevelWarning) {
		t.Error("first alert should fire")
	}
	if d.ShouldAlert(ctx, "u1", AlertLevelWarning) {
		t.Error("repeat at same level should be suppressed")
	}
	if !d.ShouldAlert(ctx, "u1", AlertLevelCritical) {
		t.Error("level change should fire")
	}

	d.ClearAlert(ctx, "u1")
	if !d.ShouldAlert(ctx, "u1", AlertLevelCritical) {
		t.Error("alert should fire again after clear")
	}
}
