package provider

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/streamd/pkg/types"
)

// Ark serves Volcengine ARK endpoints. The endpoint id configured as the
// provider model is used regardless of the requested model id.
var Ark = Spec{
	ID:                  "ark",
	Name:                "ARK",
	RequiresModelConfig: true,
	Factory:             newArkModel,
	Models:              arkModels,
}

func newArkModel(ctx context.Context, cfg types.ProviderConfig, _ string) (model.ToolCallingChatModel, error) {
	maxTokens := maxTokensOr(cfg, 4096)
	c := &ark.ChatModelConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return ark.NewChatModel(ctx, c)
}

func arkModels(cfg types.ProviderConfig) []types.Model {
	if cfg.Model == "" {
		return nil
	}
	return []types.Model{{
		ID:            cfg.Model,
		Name:          "ARK " + cfg.Model,
		ProviderID:    "ark",
		ContextLength: 128000,
		SupportsTools: true,
	}}
}
