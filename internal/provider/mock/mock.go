// Package mock is a deterministic in-process backend serving every
// operation. It backs gateway tests and local development without any
// external credentials. Call counts are tracked so tests can assert that
// the backend was or was not reached.
package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/provider"
)

type Client struct {
	calls atomic.Int64

	// Fail, when set, is returned by every operation instead of a result.
	Fail error

	// Available mirrors IsAvailable. Defaults to available.
	Unavailable bool
}

func New() *Client { return &Client{} }

func (c *Client) Kind() provider.Kind { return provider.KindMock }

func (c *Client) IsAvailable(_ context.Context) bool { return !c.Unavailable }

// Calls reports how many operations reached the backend.
func (c *Client) Calls() int64 { return c.calls.Load() }

func (c *Client) invoke(promptChars int) (domain.Usage, error) {
	c.calls.Add(1)
	if c.Fail != nil {
		return domain.Usage{}, c.Fail
	}
	prompt := cost.EstimateTokens(promptChars)
	u := domain.Usage{PromptTokens: prompt, CompletionTokens: 8}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u, nil
}

func (c *Client) Complete(_ context.Context, req domain.CompletionRequest) (*domain.Result, error) {
	usage, err := c.invoke(len(req.Prompt))
	if err != nil {
		return nil, err
	}
	return &domain.Result{
		ID:           uuid.NewString(),
		Operation:    domain.OperationCompletion,
		Model:        req.Options.Model,
		Provider:     "mock",
		Usage:        usage,
		FinishReason: "stop",
		Text:         "mock completion for: " + req.Prompt,
	}, nil
}

func (c *Client) Chat(_ context.Context, req domain.ChatRequest) (*domain.Result, error) {
	var chars int
	var last string
	for _, m := range req.Messages {
		chars += len(m.Content)
		last = m.Content
	}
	usage, err := c.invoke(chars)
	if err != nil {
		return nil, err
	}
	return &domain.Result{
		ID:           uuid.NewString(),
		Operation:    domain.OperationChat,
		Model:        req.Options.Model,
		Provider:     "mock",
		Usage:        usage,
		FinishReason: "stop",
		Message:      &domain.Message{Role: "assistant", Content: "mock reply to: " + last},
	}, nil
}

func (c *Client) Embed(_ context.Context, req domain.EmbeddingRequest) (*domain.Result, error) {
	var chars int
	for _, in := range req.Inputs {
		chars += len(in)
	}
	usage, err := c.invoke(chars)
	if err != nil {
		return nil, err
	}

	// Deterministic vectors derived from input lengths.
	embeddings := make([][]float64, len(req.Inputs))
	for i, in := range req.Inputs {
		embeddings[i] = []float64{float64(len(in)), float64(i)}
	}
	return &domain.Result{
		ID:         uuid.NewString(),
		Operation:  domain.OperationEmbedding,
		Model:      req.Options.Model,
		Provider:   "mock",
		Usage:      usage,
		Embeddings: embeddings,
	}, nil
}

func (c *Client) GenerateImage(_ context.Context, req domain.ImageRequest) (*domain.Result, error) {
	usage, err := c.invoke(len(req.Prompt))
	if err != nil {
		return nil, err
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	images := make([]domain.ImageData, count)
	for i := range images {
		images[i] = domain.ImageData{URL: "https://mock.invalid/images/" + uuid.NewString() + ".png"}
	}
	return &domain.Result{
		ID:        uuid.NewString(),
		Operation: domain.OperationImage,
		Model:     req.Options.Model,
		Provider:  "mock",
		Usage:     usage,
		Images:    images,
	}, nil
}

func (c *Client) TranscribeAudio(_ context.Context, req domain.TranscriptionRequest) (*domain.Result, error) {
	usage, err := c.invoke(len(req.Audio))
	if err != nil {
		return nil, err
	}
	return &domain.Result{
		ID:         uuid.NewString(),
		Operation:  domain.OperationTranscription,
		Model:      req.Options.Model,
		Provider:   "mock",
		Usage:      usage,
		Transcript: "mock transcript",
	}, nil
}

func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	res, err := c.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(res.Message.Content, " ") {
		handler(domain.StreamDelta{Content: word})
	}
	handler(domain.StreamDelta{Done: true})
	return res, nil
}
