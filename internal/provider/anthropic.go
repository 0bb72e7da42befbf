package provider

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/streamd/pkg/types"
)

// Anthropic serves Claude models through the Anthropic API.
var Anthropic = Spec{
	ID:      "anthropic",
	Name:    "Anthropic",
	Factory: newClaudeModel,
	Models:  anthropicModels,
}

func newClaudeModel(ctx context.Context, cfg types.ProviderConfig, modelID string) (model.ToolCallingChatModel, error) {
	c := &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     modelID,
		MaxTokens: maxTokensOr(cfg, 8192),
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		c.BaseURL = &baseURL
	}
	return claude.NewChatModel(ctx, c)
}

func anthropicModels(types.ProviderConfig) []types.Model {
	return []types.Model{
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 64000,
			SupportsTools:   true,
			SupportsVision:  true,
		},
		{
			ID:                "claude-opus-4-20250514",
			Name:              "Claude Opus 4",
			ProviderID:        "anthropic",
			ContextLength:     200000,
			MaxOutputTokens:   32000,
			SupportsTools:     true,
			SupportsVision:    true,
			SupportsReasoning: true,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			SupportsVision:  true,
		},
	}
}
