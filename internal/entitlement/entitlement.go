// Package entitlement resolves per-caller plan limits: requests per window,
// monthly token and cost caps. Limits live in an external source; lookups
// are read-through cached and fall back to static per-operation defaults
// when the source is unreachable, so a degraded entitlement service slows
// nobody down and never blocks admission outright.
package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/modelgate/modelgate/internal/domain"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Entitlement is the effective limit set for one caller.
type Entitlement struct {
	Tier              Tier
	RequestsPerWindow int
	Window            time.Duration
	MonthlyTokenLimit int64
	MonthlyBudgetUSD  float64
}

// Source is the external entitlement lookup. Implementations return
// domain.ErrKeyNotFound-style errors or plain failures; the resolver treats
// both as "use defaults".
type Source interface {
	Lookup(ctx context.Context, caller domain.Caller) (Entitlement, error)
}

// Defaults holds the static per-operation request allowances used when no
// plan override applies.
type Defaults struct {
	RequestsPerWindow map[domain.Operation]int
	Window            time.Duration
	MonthlyTokenLimit int64
	MonthlyBudgetUSD  float64
}

func DefaultLimits() Defaults {
	return Defaults{
		RequestsPerWindow: map[domain.Operation]int{
			domain.OperationChat:          60,
			domain.OperationCompletion:    60,
			domain.OperationCode:          60,
			domain.OperationEmbedding:     120,
			domain.OperationImage:         10,
			domain.OperationTranscription: 20,
		},
		Window:            time.Minute,
		MonthlyTokenLimit: 2_000_000,
		MonthlyBudgetUSD:  50,
	}
}

// Resolver combines the external source, a TTL'd cache, and the static
// defaults into the effective limits for a request.
type Resolver struct {
	source   Source
	cache    *expirable.LRU[string, Entitlement]
	defaults Defaults
}

func NewResolver(source Source, defaults Defaults, cacheSize int, cacheTTL time.Duration) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{
		source:   source,
		cache:    expirable.NewLRU[string, Entitlement](cacheSize, nil, cacheTTL),
		defaults: defaults,
	}
}

// Resolve returns the caller's entitlement for an operation. A premium tier
// doubles the default request allowance; explicit plan values win over
// defaults field by field.
func (r *Resolver) Resolve(ctx context.Context, caller domain.Caller, op domain.Operation) Entitlement {
	base := Entitlement{
		Tier:              TierFree,
		RequestsPerWindow: r.defaults.RequestsPerWindow[op],
		Window:            r.defaults.Window,
		MonthlyTokenLimit: r.defaults.MonthlyTokenLimit,
		MonthlyBudgetUSD:  r.defaults.MonthlyBudgetUSD,
	}

	plan, ok := r.lookup(ctx, caller)
	if !ok {
		return base
	}

	if plan.Tier != "" {
		base.Tier = plan.Tier
	}
	if plan.RequestsPerWindow > 0 {
		base.RequestsPerWindow = plan.RequestsPerWindow
	} else if base.Tier == TierPremium {
		base.RequestsPerWindow *= 2
	}
	if plan.Window > 0 {
		base.Window = plan.Window
	}
	if plan.MonthlyTokenLimit > 0 {
		base.MonthlyTokenLimit = plan.MonthlyTokenLimit
	}
	if plan.MonthlyBudgetUSD > 0 {
		base.MonthlyBudgetUSD = plan.MonthlyBudgetUSD
	}

	return base
}

func (r *Resolver) lookup(ctx context.Context, caller domain.Caller) (Entitlement, bool) {
	key := caller.UserID + "/" + caller.TenantID

	if e, ok := r.cache.Get(key); ok {
		return e, true
	}

	if r.source == nil {
		return Entitlement{}, false
	}

	e, err := r.source.Lookup(ctx, caller)
	if err != nil {
		slog.Warn("entitlement lookup failed, using defaults",
			"user_id", caller.UserID, "tenant_id", caller.TenantID, "error", err)
		return Entitlement{}, false
	}

	r.cache.Add(key, e)
	return e, true
}

// Invalidate drops a caller's cached entitlement, forcing a re-read on the
// next request. Used after plan changes.
func (r *Resolver) Invalidate(caller domain.Caller) {
	r.cache.Remove(caller.UserID + "/" + caller.TenantID)
}

// StaticSource serves a fixed entitlement table. Used in tests and
// single-tenant deployments.
type StaticSource struct {
	byUser map[string]Entitlement
}

func NewStaticSource(byUser map[string]Entitlement) *StaticSource {
	return &StaticSource{byUser: byUser}
}

func (s *StaticSource) Lookup(ctx context.Context, caller domain.Caller) (Entitlement, error) {
	if e, ok := s.byUser[caller.UserID]; ok {
		return e, nil
	}
	return Entitlement{}, domain.ErrKeyNotFound
}
