package registry

import "github.com/modelgate/modelgate/internal/domain"

// Seed registers the built-in model catalog. Pricing is expressed per
// million tokens in USD.
func Seed(r *Registry) error {
	chatCaps := domain.Capabilities{
		Chat: true, Completion: true, Streaming: true, FunctionCalling: true,
		MaxTemperature: 2.0, DefaultTemp: 1.0,
	}
	visionChatCaps := chatCaps
	visionChatCaps.Vision = true

	models := []domain.ModelDescriptor{
		{
			ID: "gpt-4o", Provider: "openai", Category: domain.OperationChat,
			ContextWindow: 128000, MaxOutputTokens: 16384,
			Pricing:      domain.Pricing{PromptPerMillion: 5.0, CompletionPerMillion: 15.0, Currency: "USD"},
			Capabilities: visionChatCaps,
		},
		{
			ID: "gpt-4o-mini", Provider: "openai", Category: domain.OperationChat,
			ContextWindow: 128000, MaxOutputTokens: 16384,
			Pricing:      domain.Pricing{PromptPerMillion: 0.15, CompletionPerMillion: 0.6, Currency: "USD"},
			Capabilities: visionChatCaps,
		},
		{
			ID: "gpt-3.5-turbo", Provider: "openai", Category: domain.OperationChat,
			ContextWindow: 16385, MaxOutputTokens: 4096,
			Pricing:      domain.Pricing{PromptPerMillion: 0.5, CompletionPerMillion: 1.5, Currency: "USD"},
			Capabilities: chatCaps,
		},
		{
			ID: "text-embedding-3-small", Provider: "openai", Category: domain.OperationEmbedding,
			ContextWindow: 8191,
			Pricing:       domain.Pricing{PromptPerMillion: 0.02, Currency: "USD"},
			Capabilities:  domain.Capabilities{Embedding: true},
		},
		{
			ID: "text-embedding-3-large", Provider: "openai", Category: domain.OperationEmbedding,
			ContextWindow: 8191,
			Pricing:       domain.Pricing{PromptPerMillion: 0.13, Currency: "USD"},
			Capabilities:  domain.Capabilities{Embedding: true},
		},
		{
			ID: "dall-e-3", Provider: "openai", Category: domain.OperationImage,
			Pricing:      domain.Pricing{PromptPerMillion: 0, Currency: "USD"},
			Capabilities: domain.Capabilities{Image: true},
		},
		{
			ID: "whisper-1", Provider: "openai", Category: domain.OperationTranscription,
			Pricing:      domain.Pricing{PromptPerMillion: 0, Currency: "USD"},
			Capabilities: domain.Capabilities{Audio: true},
		},
		{
			ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", Category: domain.OperationChat,
			ContextWindow: 200000, MaxOutputTokens: 8192,
			Pricing:      domain.Pricing{PromptPerMillion: 3.0, CompletionPerMillion: 15.0, Currency: "USD"},
			Capabilities: visionChatCaps,
		},
		{
			ID: "claude-3-5-haiku-20241022", Provider: "anthropic", Category: domain.OperationChat,
			ContextWindow: 200000, MaxOutputTokens: 8192,
			Pricing:      domain.Pricing{PromptPerMillion: 1.0, CompletionPerMillion: 5.0, Currency: "USD"},
			Capabilities: chatCaps,
		},
		{
			ID: "claude-3-opus-20240229", Provider: "anthropic", Category: domain.OperationChat,
			ContextWindow: 200000, MaxOutputTokens: 4096,
			Pricing:      domain.Pricing{PromptPerMillion: 15.0, CompletionPerMillion: 75.0, Currency: "USD"},
			Capabilities: chatCaps,
		},
		{
			ID: "gemini-2.0-flash", Provider: "google", Category: domain.OperationChat,
			ContextWindow: 1048576, MaxOutputTokens: 8192,
			Pricing:      domain.Pricing{PromptPerMillion: 0.1, CompletionPerMillion: 0.4, Currency: "USD"},
			Capabilities: visionChatCaps,
		},
		{
			ID: "text-embedding-004", Provider: "google", Category: domain.OperationEmbedding,
			ContextWindow: 2048,
			Pricing:       domain.Pricing{PromptPerMillion: 0.01, Currency: "USD"},
			Capabilities:  domain.Capabilities{Embedding: true},
		},
		{
			ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "bedrock", Category: domain.OperationChat,
			ContextWindow: 200000, MaxOutputTokens: 8192,
			Pricing:      domain.Pricing{PromptPerMillion: 3.0, CompletionPerMillion: 15.0, Currency: "USD"},
			Capabilities: chatCaps,
		},
		{
			ID: "llama3", Provider: "local", Category: domain.OperationChat,
			ContextWindow: 8192, MaxOutputTokens: 4096,
			Pricing: domain.Pricing{Currency: "USD"},
			Capabilities: domain.Capabilities{
				Chat: true, Completion: true, Embedding: true, Streaming: true,
				MaxTemperature: 2.0, DefaultTemp: 0.8,
			},
		},
	}

	for _, m := range models {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}
