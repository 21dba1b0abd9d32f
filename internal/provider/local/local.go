// Package local adapts an Ollama-compatible server running alongside the
// gateway. It serves chat, completion, code completion, embeddings, and
// streaming chat. There is no API key; the endpoint is trusted.
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/httputil"
	"github.com/modelgate/modelgate/internal/provider"
)

const defaultBaseURL = "http://localhost:11434"

type Client struct {
	provider.Unsupported

	baseURL string
	client  *http.Client
}

func New(cfg provider.ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &Client{
		Unsupported: provider.Unsupported{K: provider.KindLocal},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      httputil.NewTimeoutClient(timeout),
	}
}

func (c *Client) Kind() provider.Kind { return provider.KindLocal }

func (c *Client) IsAvailable(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  *chatOptions     `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatResponse struct {
	Model           string         `json:"model"`
	Message         domain.Message `json:"message"`
	Done            bool           `json:"done"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
}

func newChatRequest(req domain.ChatRequest) chatRequest {
	out := chatRequest{
		Model:    req.Options.Model,
		Messages: req.Messages,
	}
	opts := req.Options
	if opts.Temperature != nil || opts.MaxTokens != nil || opts.TopP != nil || len(opts.Stop) > 0 {
		out.Options = &chatOptions{Stop: opts.Stop}
		if opts.Temperature != nil {
			out.Options.Temperature = *opts.Temperature
		}
		if opts.MaxTokens != nil {
			out.Options.NumPredict = *opts.MaxTokens
		}
		if opts.TopP != nil {
			out.Options.TopP = *opts.TopP
		}
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, provider.NormalizeTransportError(provider.KindLocal, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.NormalizeHTTPError(provider.KindLocal, resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	resp, err := c.post(ctx, "/api/chat", newChatRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	msg := out.Message
	return &domain.Result{
		ID:           uuid.NewString(),
		Operation:    domain.OperationChat,
		Model:        req.Options.Model,
		Provider:     "local",
		Usage:        toUsage(out.PromptEvalCount, out.EvalCount),
		FinishReason: "stop",
		Message:      &msg,
	}, nil
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Result, error) {
	res, err := c.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: req.Prompt}},
		Options:  req.Options,
	})
	if err != nil {
		return nil, err
	}
	res.Operation = domain.OperationCompletion
	res.Text = res.Message.Content
	res.Message = nil
	return res, nil
}

func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	payload := newChatRequest(req)
	payload.Stream = true

	resp, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		sb               strings.Builder
		promptTokens     int
		completionTokens int
	)

	// Ollama streams newline-delimited JSON, not SSE.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}

		if chunk.Message.Content != "" {
			sb.WriteString(chunk.Message.Content)
			handler(domain.StreamDelta{Content: chunk.Message.Content})
		}
		if chunk.Done {
			promptTokens = chunk.PromptEvalCount
			completionTokens = chunk.EvalCount
			break
		}

		select {
		case <-ctx.Done():
			return nil, provider.NormalizeTransportError(provider.KindLocal, ctx.Err())
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, provider.NormalizeTransportError(provider.KindLocal, err)
	}

	handler(domain.StreamDelta{Done: true})

	return &domain.Result{
		ID:           uuid.NewString(),
		Operation:    domain.OperationChat,
		Model:        req.Options.Model,
		Provider:     "local",
		Usage:        toUsage(promptTokens, completionTokens),
		FinishReason: "stop",
		Message:      &domain.Message{Role: "assistant", Content: sb.String()},
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
}

func (c *Client) Embed(ctx context.Context, req domain.EmbeddingRequest) (*domain.Result, error) {
	resp, err := c.post(ctx, "/api/embed", embedRequest{Model: req.Options.Model, Input: req.Inputs})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &domain.Result{
		ID:         uuid.NewString(),
		Operation:  domain.OperationEmbedding,
		Model:      req.Options.Model,
		Provider:   "local",
		Usage:      domain.Usage{PromptTokens: out.PromptEvalCount, TotalTokens: out.PromptEvalCount},
		Embeddings: out.Embeddings,
	}, nil
}

func toUsage(prompt, completion int) domain.Usage {
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
