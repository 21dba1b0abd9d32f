package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/modelgate/modelgate/internal/domain"
)

type stubInvoker struct {
	lastInput *bedrockruntime.InvokeModelInput
	body      []byte
	err       error
}

func (s *stubInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	s.lastInput = params
	if s.err != nil {
		return nil, s.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: s.body}, nil
}

func (s *stubInvoker) InvokeModelWithResponseStream(_ context.Context, _ *bedrockruntime.InvokeModelWithResponseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not stubbed")
}

func TestChat(t *testing.T) {
	stub := &stubInvoker{body: []byte(`{
		"id": "msg_br_1",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": "from bedrock"}],
		"usage": {"input_tokens": 7, "output_tokens": 3}
	}`)}
	c := NewWithInvoker(stub, "us-east-1")

	res, err := c.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
		},
		Options: domain.Options{Model: "anthropic.claude-3-5-sonnet-20241022-v2:0"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.Content != "from bedrock" {
		t.Errorf("content = %q", res.Message.Content)
	}
	if res.Usage.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", res.Usage.TotalTokens)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish reason = %q", res.FinishReason)
	}

	if got := *stub.lastInput.ModelId; got != "anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Errorf("model id = %q", got)
	}
	var sent invokeRequest
	if err := json.Unmarshal(stub.lastInput.Body, &sent); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if sent.System != "be helpful" {
		t.Errorf("system = %q, want lifted system prompt", sent.System)
	}
	if sent.AnthropicVersion != anthropicVersion {
		t.Errorf("anthropic_version = %q", sent.AnthropicVersion)
	}
	if sent.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d", sent.MaxTokens)
	}
}

func TestChatInvokeFailureNormalized(t *testing.T) {
	c := NewWithInvoker(&stubInvoker{err: errors.New("throttled")}, "us-east-1")

	_, err := c.Chat(context.Background(), domain.ChatRequest{Options: domain.Options{Model: "m"}})
	if domain.CodeOf(err) != domain.ErrCodeProvider {
		t.Fatalf("code = %s, want PROVIDER_ERROR", domain.CodeOf(err))
	}
	if !domain.AsError(err).Retryable() {
		t.Error("transport failure must be retryable")
	}
}

func TestComplete(t *testing.T) {
	stub := &stubInvoker{body: []byte(`{
		"id": "msg_br_2",
		"stop_reason": "max_tokens",
		"content": [{"type": "text", "text": "a continuation"}],
		"usage": {"input_tokens": 2, "output_tokens": 4}
	}`)}
	c := NewWithInvoker(stub, "us-east-1")

	res, err := c.Complete(context.Background(), domain.CompletionRequest{
		Prompt:  "continue",
		Options: domain.Options{Model: "anthropic.claude-3-5-sonnet-20241022-v2:0"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Operation != domain.OperationCompletion || res.Text != "a continuation" {
		t.Errorf("result = %+v", res)
	}
	if res.FinishReason != "length" {
		t.Errorf("finish reason = %q", res.FinishReason)
	}
}

func TestEmbedNotSupported(t *testing.T) {
	c := NewWithInvoker(&stubInvoker{}, "us-east-1")
	_, err := c.Embed(context.Background(), domain.EmbeddingRequest{})
	if domain.CodeOf(err) != domain.ErrCodeNotSupported {
		t.Fatalf("code = %s, want NOT_SUPPORTED", domain.CodeOf(err))
	}
}
