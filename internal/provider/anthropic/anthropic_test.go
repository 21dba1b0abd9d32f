package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(provider.ClientConfig{APIKey: "test-key", BaseURL: srv.URL})
}

func TestChatLiftsSystemPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "be terse" {
			t.Errorf("system = %q, want lifted system prompt", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v, want system message filtered out", req.Messages)
		}
		if req.MaxTokens != defaultMaxTokens {
			t.Errorf("max_tokens = %d, want default %d", req.MaxTokens, defaultMaxTokens)
		}

		w.Write([]byte(`{
			"id": "msg_1",
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "ok"}],
			"usage": {"input_tokens": 8, "output_tokens": 1}
		}`))
	})

	res, err := c.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
		Options: domain.Options{Model: "claude-3-5-sonnet-20241022"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.Content != "ok" {
		t.Errorf("content = %q", res.Message.Content)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop (mapped from end_turn)", res.FinishReason)
	}
	if res.Usage.TotalTokens != 9 {
		t.Errorf("total tokens = %d, want 9", res.Usage.TotalTokens)
	}
}

func TestCompleteWrapsPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Content != "finish this sentence" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Write([]byte(`{
			"id": "msg_2",
			"model": "claude-3-5-haiku-20241022",
			"stop_reason": "max_tokens",
			"content": [{"type": "text", "text": "with style"}],
			"usage": {"input_tokens": 4, "output_tokens": 2}
		}`))
	})

	res, err := c.Complete(context.Background(), domain.CompletionRequest{
		Prompt:  "finish this sentence",
		Options: domain.Options{Model: "claude-3-5-haiku-20241022"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Operation != domain.OperationCompletion {
		t.Errorf("operation = %s", res.Operation)
	}
	if res.Text != "with style" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Message != nil {
		t.Error("completion result must not carry a chat message")
	}
	if res.FinishReason != "length" {
		t.Errorf("finish reason = %q, want length", res.FinishReason)
	}
}

func TestEmbedNotSupported(t *testing.T) {
	c := New(provider.ClientConfig{APIKey: "k"})

	_, err := c.Embed(context.Background(), domain.EmbeddingRequest{})
	if domain.CodeOf(err) != domain.ErrCodeNotSupported {
		t.Fatalf("code = %s, want NOT_SUPPORTED", domain.CodeOf(err))
	}
	if domain.AsError(err).StatusCode != 501 {
		t.Errorf("status = %d, want 501", domain.AsError(err).StatusCode)
	}
}

func TestStreamChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_3\",\"model\":\"claude-3-5-sonnet-20241022\",\"usage\":{\"input_tokens\":5}}}\n\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hel\"}}\n\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		io.WriteString(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	})

	var got string
	var done bool
	res, err := c.StreamChat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
		Options:  domain.Options{Model: "claude-3-5-sonnet-20241022"},
	}, func(d domain.StreamDelta) {
		got += d.Content
		done = d.Done
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("streamed content = %q, want hello", got)
	}
	if !done {
		t.Error("final delta must have Done set")
	}
	if res.Usage.PromptTokens != 5 || res.Usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", res.FinishReason)
	}
}

func TestRateLimitNormalized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
	})

	_, err := c.Chat(context.Background(), domain.ChatRequest{Options: domain.Options{Model: "claude-3-opus"}})
	ge := domain.AsError(err)
	if ge.Code != domain.ErrCodeProvider || ge.StatusCode != 429 {
		t.Fatalf("error = %+v, want PROVIDER_ERROR with status 429", ge)
	}
	if !ge.Retryable() {
		t.Error("upstream 429 must be retryable")
	}
}
