// Package provider defines the adapter contract every model backend
// implements, the closed set of backend kinds, and the shared error
// normalization and retry machinery. Adapters are stateless after
// construction and safe for concurrent use.
package provider

import (
	"context"
	"fmt"

	"github.com/modelgate/modelgate/internal/domain"
)

// Kind enumerates the supported backends. Dispatch is over this closed set;
// adding a backend means adding a kind and an adapter, never an open string
// lookup.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindGoogle    Kind = "google"
	KindBedrock   Kind = "bedrock"
	KindLocal     Kind = "local"
	KindMock      Kind = "mock"
)

// ParseKind validates a provider name against the closed set.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOpenAI, KindAnthropic, KindGoogle, KindBedrock, KindLocal, KindMock:
		return Kind(s), nil
	}
	return "", fmt.Errorf("provider %q: %w", s, domain.ErrProviderNotFound)
}

// Adapter is the uniform capability surface over one backend. Operations a
// backend cannot serve return NOT_SUPPORTED immediately; adapters never
// silently degrade to a different operation. Adapters always return results
// with Cached=false.
type Adapter interface {
	Kind() Kind

	// IsAvailable probes backend liveness. Used by health checks, never on
	// the request path.
	IsAvailable(ctx context.Context) bool

	Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Result, error)
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error)
	Embed(ctx context.Context, req domain.EmbeddingRequest) (*domain.Result, error)
	GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.Result, error)
	TranscribeAudio(ctx context.Context, req domain.TranscriptionRequest) (*domain.Result, error)

	// StreamChat delivers incremental deltas through handler on the calling
	// task, then returns a terminal Result equivalent to a non-streaming
	// call. Usage is estimated from character counts when the backend does
	// not report exact numbers.
	StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error)
}

// ClientConfig is the stateless per-adapter configuration: credentials,
// endpoint, timeout, and retry budget. No per-request mutable state lives
// on an adapter.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
	MaxRetries int
}

// NotSupported is the uniform NOT_SUPPORTED failure for an operation a
// backend does not implement.
func NotSupported(kind Kind, op domain.Operation) error {
	return domain.NewNotSupportedError(string(kind), op)
}

// Unsupported embeds default NOT_SUPPORTED implementations so adapters only
// write the operations their backend actually serves.
type Unsupported struct {
	K Kind
}

func (u Unsupported) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Result, error) {
	return nil, NotSupported(u.K, domain.OperationCompletion)
}

func (u Unsupported) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	return nil, NotSupported(u.K, domain.OperationChat)
}

func (u Unsupported) Embed(ctx context.Context, req domain.EmbeddingRequest) (*domain.Result, error) {
	return nil, NotSupported(u.K, domain.OperationEmbedding)
}

func (u Unsupported) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.Result, error) {
	return nil, NotSupported(u.K, domain.OperationImage)
}

func (u Unsupported) TranscribeAudio(ctx context.Context, req domain.TranscriptionRequest) (*domain.Result, error) {
	return nil, NotSupported(u.K, domain.OperationTranscription)
}

func (u Unsupported) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	return nil, NotSupported(u.K, domain.OperationChat)
}
