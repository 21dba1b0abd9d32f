package google

import (
	"testing"

	"google.golang.org/genai"

	"github.com/modelgate/modelgate/internal/domain"
)

func TestToContents(t *testing.T) {
	contents, system := toContents([]domain.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	})

	if system == nil || system.Parts[0].Text != "be brief" {
		t.Fatalf("system instruction not lifted: %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3 (system excluded)", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Errorf("role[0] = %q", contents[0].Role)
	}
	if contents[1].Role != genai.RoleModel {
		t.Errorf("role[1] = %q, assistant must map to model", contents[1].Role)
	}
}

func TestToConfig(t *testing.T) {
	temp := 0.7
	maxTokens := 256
	cfg := toConfig(domain.Options{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	}, nil)

	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 256 {
		t.Errorf("max output tokens = %d", cfg.MaxOutputTokens)
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "END" {
		t.Errorf("stop sequences = %v", cfg.StopSequences)
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		in   genai.FinishReason
		want string
	}{
		{genai.FinishReasonStop, "stop"},
		{genai.FinishReasonMaxTokens, "length"},
		{genai.FinishReasonSafety, "safety"},
	}
	for _, tt := range tests {
		if got := mapFinishReason(tt.in); got != tt.want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToUsage(t *testing.T) {
	u := toUsage(&genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     10,
		CandidatesTokenCount: 5,
		TotalTokenCount:      15,
	})
	if u.PromptTokens != 10 || u.CompletionTokens != 5 || u.TotalTokens != 15 {
		t.Errorf("usage = %+v", u)
	}

	if got := toUsage(nil); got != (domain.Usage{}) {
		t.Errorf("nil metadata must yield zero usage, got %+v", got)
	}
}
