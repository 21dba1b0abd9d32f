// Package openai adapts the OpenAI REST API to the gateway's adapter
// contract. It is the only backend serving the full operation set:
// completions, chat, embeddings, image generation, transcription, and
// streaming chat.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/httputil"
	"github.com/modelgate/modelgate/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Client struct {
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
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httputil.NewTimeoutClient(timeout),
		stream:  httputil.NewStreamingClient(),
	}
}

func (c *Client) Kind() provider.Kind { return provider.KindOpenAI }

func (c *Client) IsAvailable(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", http.NoBody)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// post sends a JSON payload and decodes the 200 response into out. Non-2xx
// responses and transport failures come back already normalized.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return provider.NormalizeTransportError(provider.KindOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return provider.NormalizeHTTPError(provider.KindOpenAI, resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u usagePayload) toDomain() domain.Usage {
	return domain.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage usagePayload `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Result, error) {
	payload := completionRequest{
		Model:       req.Options.Model,
		Prompt:      req.Prompt,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
		TopP:        req.Options.TopP,
		Stop:        req.Options.Stop,
	}

	var out completionResponse
	if err := c.post(ctx, "/completions", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, domain.NewProviderError("openai", 200, "response contained no choices", nil)
	}

	return &domain.Result{
		ID:           out.ID,
		Operation:    domain.OperationCompletion,
		Model:        out.Model,
		Provider:     "openai",
		Usage:        out.Usage.toDomain(),
		FinishReason: out.Choices[0].FinishReason,
		Text:         out.Choices[0].Text,
	}, nil
}

type chatRequest struct {
	Model         string           `json:"model"`
	Messages      []domain.Message `json:"messages"`
	Temperature   *float64         `json:"temperature,omitempty"`
	MaxTokens     *int             `json:"max_tokens,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	Stop          []string         `json:"stop,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      domain.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage usagePayload `json:"usage"`
}

func newChatRequest(req domain.ChatRequest) chatRequest {
	return chatRequest{
		Model:       req.Options.Model,
		Messages:    req.Messages,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
		TopP:        req.Options.TopP,
		Stop:        req.Options.Stop,
	}
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	var out chatResponse
	if err := c.post(ctx, "/chat/completions", newChatRequest(req), &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, domain.NewProviderError("openai", 200, "response contained no choices", nil)
	}

	msg := out.Choices[0].Message
	return &domain.Result{
		ID:           out.ID,
		Operation:    domain.OperationChat,
		Model:        out.Model,
		Provider:     "openai",
		Usage:        out.Usage.toDomain(),
		FinishReason: out.Choices[0].FinishReason,
		Message:      &msg,
	}, nil
}

type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	payload := newChatRequest(req)
	payload.Stream = true
	payload.StreamOptions = &streamOptions{IncludeUsage: true}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, provider.NormalizeTransportError(provider.KindOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.NormalizeHTTPError(provider.KindOpenAI, resp.StatusCode, string(bodyBytes))
	}

	var (
		sb           strings.Builder
		id           string
		model        = req.Options.Model
		finishReason string
		usage        *usagePayload
	)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finishReason = fr
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			sb.WriteString(content)
			handler(domain.StreamDelta{Content: content})
		}

		select {
		case <-ctx.Done():
			return nil, provider.NormalizeTransportError(provider.KindOpenAI, ctx.Err())
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, provider.NormalizeTransportError(provider.KindOpenAI, err)
	}

	handler(domain.StreamDelta{Done: true})

	res := &domain.Result{
		ID:           id,
		Operation:    domain.OperationChat,
		Model:        model,
		Provider:     "openai",
		FinishReason: finishReason,
		Message:      &domain.Message{Role: "assistant", Content: sb.String()},
	}
	if usage != nil {
		res.Usage = usage.toDomain()
	} else {
		// The backend omitted usage, so synthesize it from character counts.
		prompt := 0
		for _, m := range req.Messages {
			prompt += len(m.Content)
		}
		res.Usage = domain.Usage{
			PromptTokens:     cost.EstimateTokens(prompt),
			CompletionTokens: cost.EstimateTokens(sb.Len()),
		}
		res.Usage.TotalTokens = res.Usage.PromptTokens + res.Usage.CompletionTokens
	}
	return res, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage usagePayload `json:"usage"`
}

func (c *Client) Embed(ctx context.Context, req domain.EmbeddingRequest) (*domain.Result, error) {
	var out embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: req.Options.Model, Input: req.Inputs}, &out); err != nil {
		return nil, err
	}

	embeddings := make([][]float64, len(out.Data))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}

	return &domain.Result{
		Operation:  domain.OperationEmbedding,
		Model:      out.Model,
		Provider:   "openai",
		Usage:      out.Usage.toDomain(),
		Embeddings: embeddings,
	}, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *Client) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.Result, error) {
	payload := imageRequest{
		Model:  req.Options.Model,
		Prompt: req.Prompt,
		N:      req.Count,
		Size:   req.Size,
	}

	var out imageResponse
	if err := c.post(ctx, "/images/generations", payload, &out); err != nil {
		return nil, err
	}

	images := make([]domain.ImageData, 0, len(out.Data))
	for _, d := range out.Data {
		images = append(images, domain.ImageData{URL: d.URL, B64JSON: d.B64JSON})
	}

	return &domain.Result{
		Operation: domain.OperationImage,
		Model:     req.Options.Model,
		Provider:  "openai",
		Usage:     domain.Usage{PromptTokens: cost.EstimateTokens(len(req.Prompt))},
		Images:    images,
	}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (c *Client) TranscribeAudio(ctx context.Context, req domain.TranscriptionRequest) (*domain.Result, error) {
	format := req.Format
	if format == "" {
		format = "mp3"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := w.WriteField("model", req.Options.Model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if req.Language != "" {
		if err := w.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, provider.NormalizeTransportError(provider.KindOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.NormalizeHTTPError(provider.KindOpenAI, resp.StatusCode, string(bodyBytes))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &domain.Result{
		Operation:  domain.OperationTranscription,
		Model:      req.Options.Model,
		Provider:   "openai",
		Usage:      domain.Usage{CompletionTokens: cost.EstimateTokens(len(out.Text))},
		Transcript: out.Text,
	}, nil
}
