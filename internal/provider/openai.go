package provider

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/streamd/pkg/types"
)

// OpenAI serves models through the OpenAI (or a compatible) chat completions API.
var OpenAI = Spec{
	ID:      "openai",
	Name:    "OpenAI",
	Factory: newOpenAIModel,
	Models:  openAIModels,
}

func newOpenAIModel(ctx context.Context, cfg types.ProviderConfig, modelID string) (model.ToolCallingChatModel, error) {
	maxTokens := maxTokensOr(cfg, 4096)
	c := &openai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  modelID,
		// MaxCompletionTokens for reasoning model compatibility
		MaxCompletionTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewChatModel(ctx, c)
}

func openAIModels(types.ProviderConfig) []types.Model {
	return []types.Model{
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			SupportsVision:  true,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o Mini",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			SupportsVision:  true,
		},
		{
			ID:                "o3-mini",
			Name:              "o3-mini",
			ProviderID:        "openai",
			ContextLength:     200000,
			MaxOutputTokens:   100000,
			SupportsTools:     true,
			SupportsReasoning: true,
		},
	}
}
