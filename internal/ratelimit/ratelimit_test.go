package ratelimit

import (
	"context"
	"testing"
	"time"
)

func chatScope(user string) Scope {
	return Scope{Operation: "chat", UserID: user}
}

func TestInMemoryLimiter_AllowUpToLimit(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, chatScope("u1"), 3, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 3-i-1 {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, 3-i-1, d.Remaining)
		}
	}

	d, err := l.Allow(ctx, chatScope("u1"), 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected rejection past the limit")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("expected retry-after within the window, got %v", d.RetryAfter)
	}
}

func TestInMemoryLimiter_RejectionDoesNotConsume(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	base := time.Now()
	clock := base
	l.now = func() time.Time { return clock }

	l.Allow(ctx, chatScope("u1"), 1, time.Minute)

	// Repeated rejections must not extend the window.
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Second)
		if d, _ := l.Allow(ctx, chatScope("u1"), 1, time.Minute); d.Allowed {
			t.Fatal("expected rejection while the window holds the first event")
		}
	}

	clock = base.Add(61 * time.Second)
	if d, _ := l.Allow(ctx, chatScope("u1"), 1, time.Minute); !d.Allowed {
		t.Error("expected admission after the original event aged out")
	}
}

func TestInMemoryLimiter_SlidingWindowPrunes(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	clock := time.Now()
	l.now = func() time.Time { return clock }

	// Two early events, then two near the end of the window.
	l.Allow(ctx, chatScope("u1"), 4, time.Minute)
	l.Allow(ctx, chatScope("u1"), 4, time.Minute)
	clock = clock.Add(50 * time.Second)
	l.Allow(ctx, chatScope("u1"), 4, time.Minute)
	l.Allow(ctx, chatScope("u1"), 4, time.Minute)

	d, _ := l.Allow(ctx, chatScope("u1"), 4, time.Minute)
	if d.Allowed {
		t.Fatal("expected rejection at limit")
	}

	// 15s later the first two events are outside the window; entries older
	// than the window are never counted.
	clock = clock.Add(15 * time.Second)
	d, _ = l.Allow(ctx, chatScope("u1"), 4, time.Minute)
	if !d.Allowed {
		t.Error("expected admission once early events slid out")
	}
}

func TestInMemoryLimiter_ScopesAreIndependent(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	l.Allow(ctx, chatScope("u1"), 1, time.Minute)

	if d, _ := l.Allow(ctx, chatScope("u1"), 1, time.Minute); d.Allowed {
		t.Error("u1 should be limited")
	}
	if d, _ := l.Allow(ctx, chatScope("u2"), 1, time.Minute); !d.Allowed {
		t.Error("u2 should not be limited")
	}
	if d, _ := l.Allow(ctx, Scope{Operation: "embedding", UserID: "u1"}, 1, time.Minute); !d.Allowed {
		t.Error("a different operation should not be limited")
	}
}

func TestInMemoryLimiter_Reset(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	l.Allow(ctx, chatScope("u1"), 1, time.Minute)
	if d, _ := l.Allow(ctx, chatScope("u1"), 1, time.Minute); d.Allowed {
		t.Fatal("expected limit to be reached")
	}

	if err := l.Reset(ctx, chatScope("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d, _ := l.Allow(ctx, chatScope("u1"), 1, time.Minute); !d.Allowed {
		t.Error("expected admission after reset")
	}
}

func TestScope_Key(t *testing.T) {
	s := Scope{Operation: "chat", UserID: "u1"}
	if s.Key() != "ratelimit:chat:u1" {
		t.Errorf("unexpected key %q", s.Key())
	}

	s.TenantID = "t1"
	if s.Key() != "ratelimit:chat:u1:t1" {
		t.Errorf("unexpected key %q", s.Key())
	}
}

func TestLowRemaining(t *testing.T) {
	tests := []struct {
		d    Decision
		want bool
	}{
		{Decision{Allowed: true, Limit: 100, Remaining: 19}, true},
		{Decision{Allowed: true, Limit: 100, Remaining: 20}, false},
		{Decision{Allowed: true, Limit: 5, Remaining: 0}, true},
		{Decision{Allowed: false, Limit: 100, Remaining: 0}, false},
	}

	for _, tt := range tests {
		if got := LowRemaining(tt.d); got != tt.want {
			t.Errorf("LowRemaining(%+v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestInMemoryLimiter_ScenarioBurstThenReject(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	clock := time.Now()
	l.now = func() time.Time { return clock }

	// 100 requests over 10 seconds against a 100/60s limit all pass.
	for i := 0; i < 100; i++ {
		clock = clock.Add(100 * time.Millisecond)
		d, err := l.Allow(ctx, chatScope("u1"), 100, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// The 101st inside the same window is rejected with a bounded hint.
	d, _ := l.Allow(ctx, chatScope("u1"), 100, time.Minute)
	if d.Allowed {
		t.Fatal("101st request should be rejected")
	}
	if d.RetryAfter > time.Minute {
		t.Errorf("retry-after must not exceed the window, got %v", d.RetryAfter)
	}
}

func BenchmarkInMemoryLimiter_Allow(b *testing.B) {
	l := NewInMemoryLimiter()
	ctx := context.Background()
	scope := chatScope("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow(ctx, scope, 1000, time.Minute)
	}
}
