package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/modelgate/modelgate/internal/domain"
)

// RetryConfig bounds the retry loop wrapped around every adapter call.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryAdapter wraps an Adapter with exponential backoff on transient
// failures. All operations are safe to retry: they are stateless external
// calls with no partial server-side effect visible to the caller. Streaming
// is retried only up to first delivered delta.
type retryAdapter struct {
	inner Adapter
	cfg   RetryConfig
}

// WithRetry decorates an adapter with the uniform retry policy.
func WithRetry(inner Adapter, cfg RetryConfig) Adapter {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultRetryConfig()
	}
	return &retryAdapter{inner: inner, cfg: cfg}
}

func (r *retryAdapter) Kind() Kind { return r.inner.Kind() }

func (r *retryAdapter) IsAvailable(ctx context.Context) bool {
	return r.inner.IsAvailable(ctx)
}

func retryCall(ctx context.Context, r *retryAdapter, call func() (*domain.Result, error)) (*domain.Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (*domain.Result, error) {
		res, err := call()
		if err == nil {
			return res, nil
		}

		if !domain.AsError(err).Retryable() {
			return nil, backoff.Permanent(err)
		}

		attempt++
		slog.Debug("retrying provider call",
			"provider", r.inner.Kind(), "attempt", attempt, "error", err)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxAttempts))
}

func (r *retryAdapter) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Result, error) {
	return retryCall(ctx, r, func() (*domain.Result, error) { return r.inner.Complete(ctx, req) })
}

func (r *retryAdapter) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	return retryCall(ctx, r, func() (*domain.Result, error) { return r.inner.Chat(ctx, req) })
}

func (r *retryAdapter) Embed(ctx context.Context, req domain.EmbeddingRequest) (*domain.Result, error) {
	return retryCall(ctx, r, func() (*domain.Result, error) { return r.inner.Embed(ctx, req) })
}

func (r *retryAdapter) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.Result, error) {
	return retryCall(ctx, r, func() (*domain.Result, error) { return r.inner.GenerateImage(ctx, req) })
}

func (r *retryAdapter) TranscribeAudio(ctx context.Context, req domain.TranscriptionRequest) (*domain.Result, error) {
	return retryCall(ctx, r, func() (*domain.Result, error) { return r.inner.TranscribeAudio(ctx, req) })
}

func (r *retryAdapter) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	// Once deltas have reached the caller a retry would replay tokens, so
	// the wrapped handler latches and turns later failures permanent.
	delivered := false
	wrapped := func(d domain.StreamDelta) {
		delivered = true
		handler(d)
	}

	return retryCall(ctx, r, func() (*domain.Result, error) {
		res, err := r.inner.StreamChat(ctx, req, wrapped)
		if err != nil && delivered {
			return nil, backoff.Permanent(err)
		}
		return res, err
	})
}
