// Package api is the HTTP edge: request decoding, caller identification,
// and error-to-status mapping. All gateway semantics live behind the
// orchestrator; handlers stay thin.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/queue"
	"github.com/modelgate/modelgate/internal/registry"
)

const version = "0.1.0"

type Config struct {
	Gateway  *gateway.Orchestrator
	Registry *registry.Registry

	// Queue enables POST /v1/tasks when set.
	Queue queue.Queue

	Admin AdminConfig

	Checkers      []HealthChecker
	HealthTimeout time.Duration
}

type Handler struct {
	gw            *gateway.Orchestrator
	registry      *registry.Registry
	queue         queue.Queue
	checkers      []HealthChecker
	healthTimeout time.Duration
	mux           *http.ServeMux
}

func NewHandler(cfg Config) *Handler {
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}

	h := &Handler{
		gw:            cfg.Gateway,
		registry:      cfg.Registry,
		queue:         cfg.Queue,
		checkers:      cfg.Checkers,
		healthTimeout: healthTimeout,
		mux:           http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/completions", h.handleCompletions)
	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("POST /v1/embeddings", h.handleEmbeddings)
	h.mux.HandleFunc("POST /v1/images/generations", h.handleImages)
	h.mux.HandleFunc("POST /v1/audio/transcriptions", h.handleTranscriptions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	if h.queue != nil {
		h.mux.HandleFunc("POST /v1/tasks", h.handleEnqueueTask)
	}

	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.mountAdmin(cfg.Admin)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req domain.CompletionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.gw.Complete(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// chatPayload adds the stream flag to the wire shape of a chat request.
type chatPayload struct {
	Messages []domain.Message `json:"messages"`
	Options  domain.Options   `json:"options"`
	Stream   bool             `json:"stream,omitempty"`
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var payload chatPayload
	if !decode(w, r, &payload) {
		return
	}
	req := domain.ChatRequest{Messages: payload.Messages, Options: payload.Options}

	if payload.Stream {
		h.streamChat(w, r, caller, req)
		return
	}

	res, err := h.gw.Chat(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// streamChat relays deltas as server-sent events. Once the first delta is
// written the status is committed; a later failure can only terminate the
// event stream.
func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, caller domain.Caller, req domain.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.NewInternalError("streaming unsupported by connection", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	started := false
	res, err := h.gw.StreamChat(r.Context(), caller, req, func(d domain.StreamDelta) {
		if d.Done {
			return
		}
		started = true
		data, merr := json.Marshal(d)
		if merr != nil {
			return
		}
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	})

	if err != nil {
		if !started {
			writeError(w, err)
			return
		}
		slog.Warn("stream terminated early", "error", err)
		return
	}

	final, merr := json.Marshal(res)
	if merr == nil {
		w.Write([]byte("data: "))
		w.Write(final)
		w.Write([]byte("\n\n"))
	}
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (h *Handler) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req domain.EmbeddingRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.gw.Embed(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleImages(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req domain.ImageRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.gw.GenerateImage(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req domain.TranscriptionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.gw.TranscribeAudio(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := h.registry.List()
	if p := r.URL.Query().Get("provider"); p != "" {
		models = h.registry.ListByProvider(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handler) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var task queue.Task
	if !decode(w, r, &task) {
		return
	}
	task.ID = uuid.NewString()
	task.Caller = caller
	task.CreatedAt = time.Now().UTC()

	if err := h.queue.Enqueue(r.Context(), task); err != nil {
		writeError(w, domain.NewInternalError("enqueue task", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, err := auth.CallerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return domain.Caller{}, false
	}
	return caller, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, domain.NewValidationError("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "error", err)
	}
}

type errorBody struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Provider   string         `json:"provider,omitempty"`
	RetryAfter float64        `json:"retry_after_seconds,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		status := http.StatusInternalServerError
		code := domain.ErrCodeInternal
		switch {
		case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrProviderNotFound):
			status = http.StatusServiceUnavailable
			code = domain.ErrCodeProvider
		case errors.Is(err, domain.ErrKeyNotFound):
			status = http.StatusUnauthorized
			code = domain.ErrCodeAuth
		}
		writeJSON(w, status, map[string]errorBody{"error": {
			Code:    string(code),
			Message: err.Error(),
		}})
		return
	}

	status := de.StatusCode
	if de.Code == domain.ErrCodeProvider {
		// Upstream status codes are reported in the body, not echoed,
		// except the ones that are actionable for the caller.
		switch status {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		default:
			status = http.StatusBadGateway
		}
	}
	if status == 0 {
		status = http.StatusBadGateway
	}

	if de.RetryAfter > 0 {
		seconds := int(de.RetryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeJSON(w, status, map[string]errorBody{"error": {
		Code:       string(de.Code),
		Message:    de.Message,
		Provider:   de.Provider,
		RetryAfter: de.RetryAfter.Seconds(),
		Details:    de.Details,
	}})
}
