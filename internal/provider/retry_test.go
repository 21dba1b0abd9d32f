package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

type flakyAdapter struct {
	Unsupported
	calls    int
	failWith error
	failN    int
}

func (f *flakyAdapter) Kind() Kind                         { return KindMock }
func (f *flakyAdapter) IsAvailable(_ context.Context) bool { return true }

func (f *flakyAdapter) Chat(_ context.Context, _ domain.ChatRequest) (*domain.Result, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, f.failWith
	}
	return &domain.Result{Operation: domain.OperationChat, Message: &domain.Message{Role: "assistant", Content: "ok"}}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	inner := &flakyAdapter{failWith: domain.NewProviderError("mock", 503, "overloaded", nil), failN: 2}
	a := WithRetry(inner, fastRetry())

	res, err := a.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.Content != "ok" {
		t.Fatalf("unexpected content %q", res.Message.Content)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	inner := &flakyAdapter{failWith: domain.NewAuthError("bad api key"), failN: 10}
	a := WithRetry(inner, fastRetry())

	_, err := a.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.CodeOf(err) != domain.ErrCodeAuth {
		t.Fatalf("code = %s, want AUTH", domain.CodeOf(err))
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on auth failure)", inner.calls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyAdapter{failWith: domain.NewProviderError("mock", 500, "boom", nil), failN: 10}
	a := WithRetry(inner, fastRetry())

	_, err := a.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyAdapter{failWith: domain.NewProviderError("mock", 500, "boom", nil), failN: 10}
	a := WithRetry(inner, fastRetry())

	_, err := a.Chat(ctx, domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if !errors.Is(err, context.Canceled) && domain.CodeOf(err) != domain.ErrCodeProvider {
		t.Fatalf("unexpected error: %v", err)
	}
}
