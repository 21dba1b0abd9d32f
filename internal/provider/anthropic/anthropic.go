// Package anthropic adapts the Anthropic Messages API. It serves chat,
// completion (single-turn chat under the hood), and streaming chat;
// everything else is NOT_SUPPORTED.
package anthropic

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

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/httputil"
	"github.com/modelgate/modelgate/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

type Client struct {
	provider.Unsupported

	apiKey  string
	baseURL string
	client  *http.Client
	stream  *http.Client
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
		Unsupported: provider.Unsupported{K: provider.KindAnthropic},
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      httputil.NewTimeoutClient(timeout),
		stream:      httputil.NewStreamingClient(),
	}
}

func (c *Client) Kind() provider.Kind { return provider.KindAnthropic }

// IsAvailable reports reachability only. The messages endpoint has no cheap
// unauthenticated probe, so credentials are validated on first real call.
func (c *Client) IsAvailable(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", http.NoBody)
	if err != nil {
		return false
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

type messagesRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	System      string           `json:"system,omitempty"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func newMessagesRequest(req domain.ChatRequest) messagesRequest {
	// Anthropic takes the system prompt as a top-level field, not a message.
	var system string
	messages := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	maxTokens := defaultMaxTokens
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}

	return messagesRequest{
		Model:       req.Options.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		System:      system,
	}
}

func (c *Client) send(ctx context.Context, payload messagesRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	client := c.client
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		client = c.stream
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, provider.NormalizeTransportError(provider.KindAnthropic, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.NormalizeHTTPError(provider.KindAnthropic, resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	resp, err := c.send(ctx, newMessagesRequest(req), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &domain.Result{
		ID:           out.ID,
		Operation:    domain.OperationChat,
		Model:        out.Model,
		Provider:     "anthropic",
		Usage:        toUsage(out.Usage.InputTokens, out.Usage.OutputTokens),
		FinishReason: mapStopReason(out.StopReason),
		Message:      &domain.Message{Role: "assistant", Content: sb.String()},
	}, nil
}

// Complete serves single-prompt completion by wrapping the prompt in a
// one-turn conversation.
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

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	payload := newMessagesRequest(req)
	payload.Stream = true

	resp, err := c.send(ctx, payload, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		sb           strings.Builder
		id           string
		model        = req.Options.Model
		stopReason   string
		inputTokens  int
		outputTokens int
	)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				id = event.Message.ID
				if event.Message.Model != "" {
					model = event.Message.Model
				}
				inputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				sb.WriteString(event.Delta.Text)
				handler(domain.StreamDelta{Content: event.Delta.Text})
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			handler(domain.StreamDelta{Done: true})
			return &domain.Result{
				ID:           id,
				Operation:    domain.OperationChat,
				Model:        model,
				Provider:     "anthropic",
				Usage:        toUsage(inputTokens, outputTokens),
				FinishReason: mapStopReason(stopReason),
				Message:      &domain.Message{Role: "assistant", Content: sb.String()},
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, provider.NormalizeTransportError(provider.KindAnthropic, ctx.Err())
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, provider.NormalizeTransportError(provider.KindAnthropic, err)
	}

	return nil, domain.NewProviderError("anthropic", 0, "stream ended without message_stop", nil)
}

func toUsage(input, output int) domain.Usage {
	return domain.Usage{
		PromptTokens:     input,
		CompletionTokens: output,
		TotalTokens:      input + output,
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
