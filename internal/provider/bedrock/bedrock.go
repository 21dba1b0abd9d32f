// Package bedrock adapts AWS Bedrock model invocation, using the Anthropic
// messages body format Bedrock expects for Claude models. It serves chat,
// completion, and streaming chat.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/provider"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 4096
)

// InvokeAPI is the slice of the bedrockruntime client the adapter uses.
// Narrowed to an interface so tests can stub invocation.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

type Client struct {
	provider.Unsupported

	client InvokeAPI
	region string
}

func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg aws.Config) *Client {
	return &Client{
		Unsupported: provider.Unsupported{K: provider.KindBedrock},
		client:      bedrockruntime.NewFromConfig(cfg),
		region:      cfg.Region,
	}
}

// NewWithInvoker wires a custom invocation API. Used by tests.
func NewWithInvoker(api InvokeAPI, region string) *Client {
	return &Client{
		Unsupported: provider.Unsupported{K: provider.KindBedrock},
		client:      api,
		region:      region,
	}
}

func (c *Client) Kind() provider.Kind { return provider.KindBedrock }

// IsAvailable reports whether the adapter was constructed with credentials.
// Bedrock has no liveness endpoint cheaper than a model invocation.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.client != nil
}

type invokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []domain.Message `json:"messages"`
	System           string           `json:"system,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	StopSequences    []string         `json:"stop_sequences,omitempty"`
}

type invokeResponse struct {
	ID         string `json:"id"`
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

func newInvokeRequest(req domain.ChatRequest) invokeRequest {
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

	return invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Messages:         messages,
		System:           system,
		Temperature:      req.Options.Temperature,
		TopP:             req.Options.TopP,
		StopSequences:    req.Options.Stop,
	}
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Result, error) {
	body, err := json.Marshal(newInvokeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Options.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, provider.NormalizeTransportError(provider.KindBedrock, err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &domain.Result{
		ID:           resp.ID,
		Operation:    domain.OperationChat,
		Model:        req.Options.Model,
		Provider:     "bedrock",
		Usage:        toUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		FinishReason: mapStopReason(resp.StopReason),
		Message:      &domain.Message{Role: "assistant", Content: sb.String()},
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

type streamChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message *struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest, handler domain.StreamHandler) (*domain.Result, error) {
	body, err := json.Marshal(newInvokeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.Options.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, provider.NormalizeTransportError(provider.KindBedrock, err)
	}

	stream := output.GetStream()
	defer stream.Close()

	var (
		sb           strings.Builder
		id           string
		stopReason   string
		inputTokens  int
		outputTokens int
	)

	for event := range stream.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		var sc streamChunk
		if err := json.Unmarshal(chunk.Value.Bytes, &sc); err != nil {
			continue
		}

		switch sc.Type {
		case "message_start":
			if sc.Message != nil {
				id = sc.Message.ID
				inputTokens = sc.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if sc.Delta != nil && sc.Delta.Text != "" {
				sb.WriteString(sc.Delta.Text)
				handler(domain.StreamDelta{Content: sc.Delta.Text})
			}
		case "message_delta":
			if sc.Delta != nil && sc.Delta.StopReason != "" {
				stopReason = sc.Delta.StopReason
			}
			if sc.Usage != nil {
				outputTokens = sc.Usage.OutputTokens
			}
		case "message_stop":
			handler(domain.StreamDelta{Done: true})
			return &domain.Result{
				ID:           id,
				Operation:    domain.OperationChat,
				Model:        req.Options.Model,
				Provider:     "bedrock",
				Usage:        toUsage(inputTokens, outputTokens),
				FinishReason: mapStopReason(stopReason),
				Message:      &domain.Message{Role: "assistant", Content: sb.String()},
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, provider.NormalizeTransportError(provider.KindBedrock, ctx.Err())
		default:
		}
	}
	if err := stream.Err(); err != nil {
		return nil, provider.NormalizeTransportError(provider.KindBedrock, err)
	}

	return nil, domain.NewProviderError("bedrock", 0, "stream ended without message_stop", nil)
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
