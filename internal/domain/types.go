// Package domain holds the shared types of the gateway: operations, model
// descriptors, request/result shapes, and the error taxonomy. It has no
// dependencies on other internal packages.
package domain

import "time"

// Operation identifies the kind of model invocation a request performs.
type Operation string

const (
	OperationCompletion    Operation = "completion"
	OperationChat          Operation = "chat"
	OperationEmbedding     Operation = "embedding"
	OperationImage         Operation = "image"
	OperationTranscription Operation = "transcription"
	OperationCode          Operation = "code"
)

// Operations lists every operation the gateway serves, in a stable order.
func Operations() []Operation {
	return []Operation{
		OperationCompletion,
		OperationChat,
		OperationEmbedding,
		OperationImage,
		OperationTranscription,
		OperationCode,
	}
}

// Pricing is the per-million-token price of a model.
type Pricing struct {
	PromptPerMillion     float64 `json:"prompt_per_million"`
	CompletionPerMillion float64 `json:"completion_per_million"`
	Currency             string  `json:"currency"`
}

// Capabilities describes what a model can do. Checked before dispatch so an
// unsupported operation fails fast instead of reaching the backend.
type Capabilities struct {
	Chat            bool    `json:"chat"`
	Completion      bool    `json:"completion"`
	Embedding       bool    `json:"embedding"`
	Image           bool    `json:"image"`
	Audio           bool    `json:"audio"`
	Streaming       bool    `json:"streaming"`
	FunctionCalling bool    `json:"function_calling"`
	Vision          bool    `json:"vision"`
	MaxTemperature  float64 `json:"max_temperature"`
	DefaultTemp     float64 `json:"default_temperature"`
}

// Supports reports whether the capability set covers an operation.
func (c Capabilities) Supports(op Operation) bool {
	switch op {
	case OperationChat:
		return c.Chat
	case OperationCompletion, OperationCode:
		return c.Completion
	case OperationEmbedding:
		return c.Embedding
	case OperationImage:
		return c.Image
	case OperationTranscription:
		return c.Audio
	}
	return false
}

// ModelDescriptor is the immutable registration record for a model.
// Registered once at startup and never mutated afterwards.
type ModelDescriptor struct {
	ID              string       `json:"id"`
	Provider        string       `json:"provider"`
	Category        Operation    `json:"category"`
	ContextWindow   int          `json:"context_window"`
	MaxOutputTokens int          `json:"max_output_tokens"`
	Pricing         Pricing      `json:"pricing"`
	Capabilities    Capabilities `json:"capabilities"`
	Deprecated      bool         `json:"deprecated"`
}

// Caller identifies who a request is performed on behalf of.
type Caller struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	APIKeyID string `json:"api_key_id,omitempty"`
}

// Options carries the per-request knobs common to every operation.
// Provider, when set, pins the request to one backend; the gateway never
// substitutes a different one.
type Options struct {
	Model       string   `json:"model"`
	Provider    string   `json:"provider,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	NoCache     bool     `json:"no_cache,omitempty"`
	NoTrack     bool     `json:"no_track,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Prompt  string  `json:"prompt"`
	Options Options `json:"options"`
}

type ChatRequest struct {
	Messages []Message `json:"messages"`
	Options  Options   `json:"options"`
}

type EmbeddingRequest struct {
	Inputs  []string `json:"inputs"`
	Options Options  `json:"options"`
}

type ImageRequest struct {
	Prompt  string  `json:"prompt"`
	Size    string  `json:"size,omitempty"`
	Count   int     `json:"count,omitempty"`
	Options Options `json:"options"`
}

type TranscriptionRequest struct {
	Audio    []byte  `json:"audio"`
	Format   string  `json:"format,omitempty"`
	Language string  `json:"language,omitempty"`
	Options  Options `json:"options"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ImageData is one generated image, referenced by URL or inline base64.
type ImageData struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// Result is the normalized outcome of any operation. Exactly one payload
// field is populated, matching Operation. Adapters always return
// Cached=false; only the cache layer flips it on a hit.
type Result struct {
	ID           string    `json:"id"`
	Operation    Operation `json:"operation"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Usage        Usage     `json:"usage"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Cached       bool      `json:"cached"`
	LatencyMs    int64     `json:"latency_ms"`

	Text       string      `json:"text,omitempty"`
	Message    *Message    `json:"message,omitempty"`
	Embeddings [][]float64 `json:"embeddings,omitempty"`
	Images     []ImageData `json:"images,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
}

// StreamDelta is one incremental token chunk delivered through a streaming
// callback. Done is set on the final delta.
type StreamDelta struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// StreamHandler receives incremental deltas during a streaming chat call.
// It runs on the task of the originating request; per-connection token
// order is preserved.
type StreamHandler func(StreamDelta)

// APIKeyRecord is a per-user or per-tenant provider credential held by the
// gateway. Secret is stored encrypted and decrypted only at use time.
type APIKeyRecord struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	TenantID        string     `json:"tenant_id,omitempty"`
	Provider        string     `json:"provider"`
	EncryptedSecret string     `json:"-"`
	UsageCount      int64      `json:"usage_count"`
	UsageLimit      int64      `json:"usage_limit,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Expired reports whether the key has passed its expiry, if it has one.
func (k APIKeyRecord) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
