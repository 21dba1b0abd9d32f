// Package google adapts the Gemini API through the official genai SDK.
// It serves chat, completion, embeddings, and streaming chat.
package google

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/provider"
)

type Client struct {
	provider.Unsupported

	cli *genai.Client
}

func New(ctx context.Context, cfg provider.ClientConfig) (*Client, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		Unsupported: provider.Unsupported{K: provider.KindGoogle},
		cli:         cli,
	}, nil
}

func (c *Client) Kind() provider.Kind { return provider.KindGoogle }

func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.cli.Models.CountTokens(ctx, "gemini-2.0-flash",
		[]*genai.Content{{Parts: []*genai.Part{{Text: "ping"}}}}, nil)
	return err == nil
}

// normalize maps SDK failures into the gateway taxonomy. The SDK surfaces
// upstream HTTP status through genai.APIError.
func normalize(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.NormalizeHTTPError(provider.KindGoogle, apiErr.Code, apiErr.Message)
	}
	return provider.NormalizeTransportError(provider.KindGoogle, err)
}

func toContents(messages []domain.Message) (contents []*genai.Content, system *genai.Content) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return contents, system
}

func toConfig(opts domain.Options, system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		cfg.Temperature = &t
	}
	if opts.TopP != nil {
		p := float32(*opts.TopP)
		cfg.TopP = &p
	}
	if opts.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*opts.MaxTokens)
	}
	if len(opts.Stop) > 0 {
		cfg.StopSequences = opts.Stop
	}
	return cfg
}

func toUsage(md *genai.GenerateContentResponseUsageMetadata) domain.Usage {
	if md == nil {
		return domain.Usage{}
	}
	return domain.Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CompletionTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
	}
}

func mapFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(string(r))
	}
}

func candidateText(resp *genai.GenerateContentResponse) (string, genai.FinishReason, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", "", domain.NewProviderError("google", 200, "response contained no candidates", nil)
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), cand.FinishReason, nil
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	contents, system := toContents(req.Messages)

	resp, err := c.cli.Models.GenerateContent(ctx, req.Options.Model, contents, toConfig(req.Options, system))
	if err != nil {
		return nil, normalize(err)
	}

	text, finish, err := candidateText(resp)
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Operation:    domain.OperationChat,
		Model:        req.Options.Model,
		Provider:     "google",
		Usage:        toUsage(resp.UsageMetadata),
		FinishReason: mapFinishReason(finish),
		Message:      &domain.Message{Role: "assistant", Content: text},
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
	contents, system := toContents(req.Messages)

	var (
		sb     strings.Builder
		usage  domain.Usage
		finish genai.FinishReason
	)
	for resp, err := range c.cli.Models.GenerateContentStream(ctx, req.Options.Model, contents, toConfig(req.Options, system)) {
		if err != nil {
			return nil, normalize(err)
		}
		if resp.UsageMetadata != nil {
			usage = toUsage(resp.UsageMetadata)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		if resp.Candidates[0].FinishReason != "" {
			finish = resp.Candidates[0].FinishReason
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			sb.WriteString(part.Text)
			handler(domain.StreamDelta{Content: part.Text})
		}
	}

	handler(domain.StreamDelta{Done: true})

	return &domain.Result{
		Operation:    domain.OperationChat,
		Model:        req.Options.Model,
		Provider:     "google",
		Usage:        usage,
		FinishReason: mapFinishReason(finish),
		Message:      &domain.Message{Role: "assistant", Content: sb.String()},
	}, nil
}

func (c *Client) Embed(ctx context.Context, req domain.EmbeddingRequest) (*domain.Result, error) {
	contents := make([]*genai.Content, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: input}}})
	}

	resp, err := c.cli.Models.EmbedContent(ctx, req.Options.Model, contents, nil)
	if err != nil {
		return nil, normalize(err)
	}

	embeddings := make([][]float64, 0, len(resp.Embeddings))
	totalChars := 0
	for _, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for i, v := range e.Values {
			vec[i] = float64(v)
		}
		embeddings = append(embeddings, vec)
	}
	for _, input := range req.Inputs {
		totalChars += len(input)
	}

	return &domain.Result{
		Operation:  domain.OperationEmbedding,
		Model:      req.Options.Model,
		Provider:   "google",
		Usage:      domain.Usage{PromptTokens: cost.EstimateTokens(totalChars), TotalTokens: cost.EstimateTokens(totalChars)},
		Embeddings: embeddings,
	}, nil
}
