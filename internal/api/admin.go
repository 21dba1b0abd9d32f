package api

import (
	"context"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/cache"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/usage"
)

// AdminConfig wires the administrative surface. Endpoints whose component
// is nil respond 501.
type AdminConfig struct {
	Username     string
	PasswordHash string

	Cache    *cache.Layer
	Limiter  ratelimit.Limiter
	Tracker  usage.Tracker
	Breakers *circuitbreaker.Manager
}

type adminHandler struct {
	cfg AdminConfig
}

func (h *Handler) mountAdmin(cfg AdminConfig) {
	a := &adminHandler{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/cache/clear", a.handleCacheClear)
	mux.HandleFunc("POST /admin/ratelimit/reset", a.handleRateLimitReset)
	mux.HandleFunc("GET /admin/usage", a.handleUsageExport)
	mux.HandleFunc("GET /admin/breakers", a.handleBreakerStates)
	mux.HandleFunc("POST /admin/breakers/reset", a.handleBreakerReset)

	h.mux.Handle("/admin/", auth.AdminBasicAuth(cfg.Username, cfg.PasswordHash, mux))
}

// handleCacheClear invalidates by operation type, or everything when no
// operation is given.
func (a *adminHandler) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Cache == nil {
		writeError(w, domain.NewNotSupportedError("", "cache"))
		return
	}

	var op domain.Operation
	if s := r.URL.Query().Get("operation"); s != "" {
		parsed, ok := parseOperation(s)
		if !ok {
			writeError(w, domain.NewValidationError("unknown operation "+s))
			return
		}
		op = parsed
	}

	removed, err := a.cfg.Cache.Invalidate(r.Context(), op)
	if err != nil {
		writeError(w, domain.NewInternalError("cache invalidation", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type rateLimitResetRequest struct {
	Operation string `json:"operation"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id,omitempty"`
}

func (a *adminHandler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Limiter == nil {
		writeError(w, domain.NewNotSupportedError("", "ratelimit"))
		return
	}

	var req rateLimitResetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Operation == "" || req.UserID == "" {
		writeError(w, domain.NewValidationError("operation and user_id are required"))
		return
	}

	scope := ratelimit.Scope{Operation: req.Operation, UserID: req.UserID, TenantID: req.TenantID}
	if err := a.cfg.Limiter.Reset(r.Context(), scope); err != nil {
		writeError(w, domain.NewInternalError("rate limit reset", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleUsageExport returns a user's raw usage records for a date range,
// or aggregation buckets when group_by is given.
func (a *adminHandler) handleUsageExport(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Tracker == nil {
		writeError(w, domain.NewNotSupportedError("", "usage"))
		return
	}

	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, domain.NewValidationError("user_id is required"))
		return
	}

	now := time.Now().UTC()
	from := usage.MonthStart(now)
	to := now
	var err error
	if s := q.Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, domain.NewValidationError("from must be RFC 3339"))
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, domain.NewValidationError("to must be RFC 3339"))
			return
		}
	}

	records, err := a.cfg.Tracker.Range(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, domain.NewInternalError("usage export", err))
		return
	}

	if by := q.Get("group_by"); by != "" {
		group, ok := parseGroupBy(by)
		if !ok {
			writeError(w, domain.NewValidationError("group_by must be model, provider, or operation"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": userID, "from": from, "to": to,
			"buckets": usage.Aggregate(records, group),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID, "from": from, "to": to,
		"records": records,
	})
}

func (a *adminHandler) handleBreakerStates(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Breakers == nil {
		writeError(w, domain.NewNotSupportedError("", "breakers"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": a.cfg.Breakers.States()})
}

func (a *adminHandler) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Breakers == nil {
		writeError(w, domain.NewNotSupportedError("", "breakers"))
		return
	}

	name := r.URL.Query().Get("provider")
	if name == "" {
		writeError(w, domain.NewValidationError("provider is required"))
		return
	}

	type resetter interface {
		Reset(ctx context.Context) error
	}
	br, ok := a.cfg.Breakers.Get(name).(resetter)
	if !ok {
		writeError(w, domain.NewNotSupportedError(name, "breaker reset"))
		return
	}
	if err := br.Reset(r.Context()); err != nil {
		writeError(w, domain.NewInternalError("breaker reset", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "provider": name})
}

func parseOperation(s string) (domain.Operation, bool) {
	for _, op := range domain.Operations() {
		if string(op) == s {
			return op, true
		}
	}
	return "", false
}

func parseGroupBy(s string) (usage.GroupBy, bool) {
	switch usage.GroupBy(s) {
	case usage.GroupByModel, usage.GroupByProvider, usage.GroupByOperation:
		return usage.GroupBy(s), true
	}
	return "", false
}
