// Package gateway sequences each request through admission, cache lookup,
// provider dispatch, usage accounting, and lifecycle events. Steps within
// one request are strictly sequential; concurrency safety across requests
// lives in the backing stores.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/apikeys"
	"github.com/modelgate/modelgate/internal/budget"
	"github.com/modelgate/modelgate/internal/cache"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/entitlement"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/usage"
)

// AdapterFactory builds a transient adapter for a backend from a decrypted
// per-caller credential. The factory is responsible for wrapping the
// adapter with the retry layer.
type AdapterFactory func(kind provider.Kind, cfg provider.ClientConfig) (provider.Adapter, error)

// Config wires the orchestrator's collaborators. Registry, Limiter,
// Entitlements, Quota, Budget, Tracker, and Cost are required; Cache,
// Breakers, Keys, Factory, and Bus are optional and disable their feature
// when nil.
type Config struct {
	Registry     *registry.Registry
	Adapters     map[provider.Kind]provider.Adapter
	Factory      AdapterFactory
	Keys         *apikeys.Manager
	Cache        *cache.Layer
	Limiter      ratelimit.Limiter
	Entitlements *entitlement.Resolver
	Quota        *usage.QuotaChecker
	Budget       *budget.Limiter
	Tracker      usage.Tracker
	Cost         *cost.Calculator
	Breakers     *circuitbreaker.Manager
	Bus          *events.Bus

	DefaultProvider provider.Kind
	RequestTimeout  time.Duration
}

type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.Adapters == nil {
		cfg.Adapters = map[provider.Kind]provider.Adapter{}
	}
	return &Orchestrator{cfg: cfg}
}

// call describes one operation's inputs to the shared pipeline. cacheInput
// holds only the semantic payload (prompt, messages, inputs), never the
// full request: option flags that do not change the output must not enter
// the cache key. Nil for operations that bypass the cache.
type call struct {
	op          domain.Operation
	opts        domain.Options
	cacheInput  any
	promptChars int
	invoke      func(ctx context.Context, a provider.Adapter) (*domain.Result, error)
}

func (o *Orchestrator) Complete(ctx context.Context, caller domain.Caller, req domain.CompletionRequest) (*domain.Result, error) {
	return o.run(ctx, caller, call{
		op:          domain.OperationCompletion,
		opts:        req.Options,
		cacheInput:  req.Prompt,
		promptChars: len(req.Prompt),
		invoke: func(ctx context.Context, a provider.Adapter) (*domain.Result, error) {
			return a.Complete(ctx, req)
		},
	})
}

func (o *Orchestrator) Chat(ctx context.Context, caller domain.Caller, req domain.ChatRequest) (*domain.Result, error) {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return o.run(ctx, caller, call{
		op:          domain.OperationChat,
		opts:        req.Options,
		cacheInput:  req.Messages,
		promptChars: chars,
		invoke: func(ctx context.Context, a provider.Adapter) (*domain.Result, error) {
			return a.Chat(ctx, req)
		},
	})
}

func (o *Orchestrator) Embed(ctx context.Context, caller domain.Caller, req domain.EmbeddingRequest) (*domain.Result, error) {
	chars := 0
	for _, in := range req.Inputs {
		chars += len(in)
	}
	return o.run(ctx, caller, call{
		op:          domain.OperationEmbedding,
		opts:        req.Options,
		cacheInput:  req.Inputs,
		promptChars: chars,
		invoke: func(ctx context.Context, a provider.Adapter) (*domain.Result, error) {
			return a.Embed(ctx, req)
		},
	})
}

func (o *Orchestrator) GenerateImage(ctx context.Context, caller domain.Caller, req domain.ImageRequest) (*domain.Result, error) {
	return o.run(ctx, caller, call{
		op:          domain.OperationImage,
		opts:        req.Options,
		cacheInput:  map[string]any{"prompt": req.Prompt, "size": req.Size, "count": req.Count},
		promptChars: len(req.Prompt),
		invoke: func(ctx context.Context, a provider.Adapter) (*domain.Result, error) {
			return a.GenerateImage(ctx, req)
		},
	})
}

func (o *Orchestrator) TranscribeAudio(ctx context.Context, caller domain.Caller, req domain.TranscriptionRequest) (*domain.Result, error) {
	return o.run(ctx, caller, call{
		op:          domain.OperationTranscription,
		opts:        req.Options,
		promptChars: len(req.Audio) / 64,
		invoke: func(ctx context.Context, a provider.Adapter) (*domain.Result, error) {
			return a.TranscribeAudio(ctx, req)
		},
	})
}

// StreamChat runs the chat pipeline with incremental delivery. Streams
// bypass the cache entirely; admission, accounting, and events behave as in
// the non-streaming path.
func (o *Orchestrator) StreamChat(ctx context.Context, caller domain.Caller, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	return o.run(ctx, caller, call{
		op:          domain.OperationChat,
		opts:        req.Options,
		promptChars: chars,
		invoke: func(ctx context.Context, a provider.Adapter) (*domain.Result, error) {
			return a.StreamChat(ctx, req, handler)
		},
	})
}

// run is the shared per-request state machine. Exactly one REQUESTED event
// is published at entry and exactly one COMPLETED or FAILED at exit, all
// carrying the same correlation id.
func (o *Orchestrator) run(ctx context.Context, caller domain.Caller, c call) (*domain.Result, error) {
	requestID := uuid.NewString()
	start := time.Now()

	o.publish(events.Event{
		Type:      events.TypeRequested,
		RequestID: requestID,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		Operation: c.op,
		Model:     c.opts.Model,
	})

	res, err := o.execute(ctx, caller, c, requestID, start)
	if err != nil {
		o.publish(events.Event{
			Type:      events.TypeFailed,
			RequestID: requestID,
			UserID:    caller.UserID,
			TenantID:  caller.TenantID,
			Operation: c.op,
			Provider:  c.opts.Provider,
			Model:     c.opts.Model,
			Data:      map[string]any{"code": string(domain.CodeOf(err))},
		})
		return nil, err
	}

	o.publish(events.Event{
		Type:      events.TypeCompleted,
		RequestID: requestID,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		Operation: c.op,
		Provider:  res.Provider,
		Model:     res.Model,
		Data: map[string]any{
			"cached":     res.Cached,
			"latency_ms": res.LatencyMs,
		},
	})
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, caller domain.Caller, c call, requestID string, start time.Time) (*domain.Result, error) {
	desc, err := o.lookupModel(c)
	if err != nil {
		return nil, err
	}

	kind, err := o.selectKind(c.opts, desc)
	if err != nil {
		return nil, err
	}

	ent := o.cfg.Entitlements.Resolve(ctx, caller, c.op)

	if err := o.admit(ctx, caller, c, desc, ent); err != nil {
		return nil, err
	}

	cacheKey := ""
	if o.cacheable(c) {
		cacheKey = cache.Key(c.op, c.cacheInput, c.opts, caller.UserID)
		if res, ok := o.cfg.Cache.Get(ctx, cacheKey); ok {
			metrics.RecordCacheHit(string(c.op))
			o.publish(events.Event{
				Type: events.TypeCacheHit, RequestID: requestID,
				UserID: caller.UserID, Operation: c.op, Model: c.opts.Model,
			})
			res.LatencyMs = time.Since(start).Milliseconds()
			o.record(ctx, caller, c, requestID, res, 0, nil)
			metrics.RecordRequest(string(c.op), res.Provider, res.Model, "success", time.Since(start).Seconds())
			return res, nil
		}
		metrics.RecordCacheMiss(string(c.op))
		o.publish(events.Event{
			Type: events.TypeCacheMiss, RequestID: requestID,
			UserID: caller.UserID, Operation: c.op, Model: c.opts.Model,
		})
	}

	adapter, err := o.adapterFor(ctx, caller, kind)
	if err != nil {
		return nil, err
	}

	res, err := o.invoke(ctx, kind, adapter, c, requestID)
	if err != nil {
		o.record(ctx, caller, c, requestID, nil, time.Since(start).Milliseconds(), err)
		metrics.RecordRequest(string(c.op), string(kind), c.opts.Model, string(domain.CodeOf(err)), time.Since(start).Seconds())
		return nil, err
	}

	res.LatencyMs = time.Since(start).Milliseconds()
	costUSD := o.cfg.Cost.Calculate(res.Model, res.Usage)

	o.record(ctx, caller, c, requestID, res, 0, nil)
	metrics.RecordRequest(string(c.op), res.Provider, res.Model, "success", time.Since(start).Seconds())
	metrics.RecordTokens(string(c.op), res.Provider, res.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	metrics.RecordCost(string(c.op), res.Provider, res.Model, costUSD)

	if cacheKey != "" && o.cfg.Cache.Put(ctx, cacheKey, res) {
		o.publish(events.Event{
			Type: events.TypeCacheSet, RequestID: requestID,
			UserID: caller.UserID, Operation: c.op, Model: res.Model,
		})
	}

	return res, nil
}

func (o *Orchestrator) lookupModel(c call) (domain.ModelDescriptor, error) {
	if c.opts.Model == "" {
		return domain.ModelDescriptor{}, domain.NewValidationError("model is required")
	}

	desc, err := o.cfg.Registry.Get(c.opts.Model)
	if errors.Is(err, domain.ErrModelNotFound) {
		return domain.ModelDescriptor{}, domain.NewValidationError(fmt.Sprintf("unknown model %q", c.opts.Model))
	}
	if err != nil {
		return domain.ModelDescriptor{}, domain.NewInternalError("model lookup", err)
	}

	if desc.Deprecated {
		return domain.ModelDescriptor{}, domain.NewValidationError(fmt.Sprintf("model %q is deprecated", c.opts.Model))
	}
	if !desc.Capabilities.Supports(c.op) {
		return domain.ModelDescriptor{}, domain.NewNotSupportedError(desc.Provider, c.op)
	}
	return desc, nil
}

// selectKind honors an explicit provider, then the model's registered
// provider, then the configured default. A different backend is never
// substituted for the one requested.
func (o *Orchestrator) selectKind(opts domain.Options, desc domain.ModelDescriptor) (provider.Kind, error) {
	name := opts.Provider
	if name == "" {
		name = desc.Provider
	}
	if name == "" {
		return o.cfg.DefaultProvider, nil
	}
	kind, err := provider.ParseKind(name)
	if err != nil {
		return "", domain.NewValidationError(err.Error())
	}
	return kind, nil
}

// admit runs the pre-flight checks cheapest-first: monthly token quota,
// monthly cost budget, then the sliding rate window. The window insert runs
// last so a quota or budget rejection never consumes window allowance.
func (o *Orchestrator) admit(ctx context.Context, caller domain.Caller, c call, desc domain.ModelDescriptor, ent entitlement.Entitlement) error {
	qs, err := o.cfg.Quota.Check(ctx, caller, ent.MonthlyTokenLimit)
	if err != nil {
		// Enforcement degrades open when the usage log is unreachable.
		slog.Warn("quota check failed", "user_id", caller.UserID, "error", err)
	} else {
		if qs.Blocked {
			metrics.RecordQuotaRejection(string(c.op), "tokens")
			o.publish(events.Event{
				Type: events.TypeUsageLimitExceeded, UserID: caller.UserID,
				TenantID: caller.TenantID, Operation: c.op,
				Data: map[string]any{"limit": qs.Limit, "used": qs.Used},
			})
			return domain.NewQuotaError("monthly token limit exceeded", qs.Limit, qs.Used)
		}
		if qs.Warning {
			o.publish(events.Event{
				Type: events.TypeUsageLimitWarning, UserID: caller.UserID,
				TenantID: caller.TenantID, Operation: c.op,
				Data: map[string]any{"limit": qs.Limit, "used": qs.Used},
			})
		}
	}

	estimated := o.cfg.Cost.Estimate(desc.ID, c.promptChars, c.opts.MaxTokens)
	bs, err := o.cfg.Budget.Check(ctx, caller, ent.MonthlyBudgetUSD, estimated)
	if err != nil {
		slog.Warn("budget check failed", "user_id", caller.UserID, "error", err)
	} else if !bs.Allowed {
		metrics.RecordQuotaRejection(string(c.op), "budget")
		return domain.NewQuotaError(
			fmt.Sprintf("monthly budget of %.2f USD exhausted (spent %.2f, estimated %.4f)",
				bs.BudgetUSD, bs.CurrentUSD, bs.EstimatedUSD),
			int64(bs.BudgetUSD*100), int64(bs.CurrentUSD*100),
		)
	}

	scope := ratelimit.Scope{Operation: string(c.op), UserID: caller.UserID, TenantID: caller.TenantID}
	dec, err := o.cfg.Limiter.Allow(ctx, scope, ent.RequestsPerWindow, ent.Window)
	if err != nil {
		slog.Warn("rate limit check failed", "user_id", caller.UserID, "error", err)
		return nil
	}
	if !dec.Allowed {
		metrics.RecordRateLimitRejection(string(c.op))
		return domain.NewRateLimitError(dec.Limit, dec.RetryAfter)
	}
	if ratelimit.LowRemaining(dec) {
		o.publish(events.Event{
			Type: events.TypeRateLimitWarning, UserID: caller.UserID,
			TenantID: caller.TenantID, Operation: c.op,
			Data: map[string]any{"limit": dec.Limit, "remaining": dec.Remaining},
		})
	}
	return nil
}

// adapterFor returns the configured adapter for a backend, or builds a
// transient one from the caller's own stored credential.
func (o *Orchestrator) adapterFor(ctx context.Context, caller domain.Caller, kind provider.Kind) (provider.Adapter, error) {
	if a, ok := o.cfg.Adapters[kind]; ok {
		return a, nil
	}

	if o.cfg.Keys == nil || o.cfg.Factory == nil {
		return nil, domain.NewProviderError(string(kind), 503, "no configured credentials", domain.ErrProviderUnavailable)
	}

	secret, keyID, err := o.cfg.Keys.Resolve(ctx, caller, string(kind))
	if err != nil {
		// Structured failures (expired key, foreign owner) carry their own
		// code; a plain missing key means no credentials for this backend.
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, domain.NewProviderError(string(kind), 503, "no configured credentials", domain.ErrProviderUnavailable)
	}

	a, err := o.cfg.Factory(kind, provider.ClientConfig{APIKey: secret})
	if err != nil {
		return nil, domain.NewProviderError(string(kind), 503, "adapter construction failed", err)
	}
	slog.Debug("transient adapter built", "provider", kind, "key_id", keyID)
	return a, nil
}

func (o *Orchestrator) invoke(ctx context.Context, kind provider.Kind, adapter provider.Adapter, c call, requestID string) (*domain.Result, error) {
	var br circuitbreaker.Breaker
	if o.cfg.Breakers != nil {
		br = o.cfg.Breakers.Get(string(kind))
		if err := br.Allow(ctx); err != nil {
			o.publish(events.Event{
				Type: events.TypeProviderUnavailable, RequestID: requestID,
				Operation: c.op, Provider: string(kind), Model: c.opts.Model,
			})
			return nil, domain.NewProviderError(string(kind), 503, "circuit open", err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	res, err := c.invoke(cctx, adapter)
	if err != nil {
		code := domain.CodeOf(err)
		if code == domain.ErrCodeProvider || code == domain.ErrCodeTimeout {
			if br != nil {
				br.RecordFailure(ctx)
			}
			metrics.RecordProviderError(string(kind), string(code))
			eventType := events.TypeProviderError
			if domain.AsError(err).StatusCode == 429 {
				eventType = events.TypeProviderRateLimited
			}
			o.publish(events.Event{
				Type: eventType, RequestID: requestID,
				Operation: c.op, Provider: string(kind), Model: c.opts.Model,
				Data: map[string]any{"code": string(code)},
			})
		}
		return nil, err
	}

	if br != nil {
		br.RecordSuccess(ctx)
	}
	return res, nil
}

// record appends one usage row for a request that reached the provider
// stage, including failures and cache hits. Accounting never fails the
// request.
func (o *Orchestrator) record(ctx context.Context, caller domain.Caller, c call, requestID string, res *domain.Result, latencyMs int64, callErr error) {
	if c.opts.NoTrack || o.cfg.Tracker == nil {
		return
	}

	rec := usage.Record{
		RequestID: requestID,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		Operation: c.op,
		Model:     c.opts.Model,
		Provider:  c.opts.Provider,
		LatencyMs: latencyMs,
	}
	if res != nil {
		rec.Provider = res.Provider
		rec.Model = res.Model
		rec.PromptTokens = res.Usage.PromptTokens
		rec.CompletionTokens = res.Usage.CompletionTokens
		rec.LatencyMs = res.LatencyMs
		rec.Cached = res.Cached
		if !res.Cached {
			rec.CostUSD = o.cfg.Cost.Calculate(res.Model, res.Usage)
		}
	}
	if callErr != nil {
		rec.Error = string(domain.CodeOf(callErr))
		rec.PromptTokens = cost.EstimateTokens(c.promptChars)
	}

	if err := o.cfg.Tracker.Record(ctx, rec); err != nil {
		slog.Warn("usage record failed", "request_id", requestID, "error", err)
	}
}

func (o *Orchestrator) cacheable(c call) bool {
	return o.cfg.Cache != nil && c.cacheInput != nil && !c.opts.NoCache && o.cfg.Cache.Cacheable(c.op)
}

func (o *Orchestrator) publish(e events.Event) {
	if o.cfg.Bus == nil {
		return
	}
	o.cfg.Bus.Publish(e)
}
