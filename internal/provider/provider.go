// Package provider creates eino chat models for configured LLM providers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/streamd/pkg/types"
)

// ErrProviderNotConfigured is returned when a provider has no usable configuration.
var ErrProviderNotConfigured = errors.New("provider not configured")

// Factory builds a chat model for one model of a provider.
type Factory func(ctx context.Context, cfg types.ProviderConfig, modelID string) (model.ToolCallingChatModel, error)

// Spec describes a supported provider.
type Spec struct {
	ID   string
	Name string
	// RequiresModelConfig is set when the model id must come from config
	// (endpoint-style providers such as ARK).
	RequiresModelConfig bool
	Factory             Factory
	Models              func(cfg types.ProviderConfig) []types.Model
}

// Validate checks that cfg carries what the provider needs to make requests.
func (s Spec) Validate(cfg types.ProviderConfig) error {
	if cfg.Disable {
		return fmt.Errorf("%s: %w (disabled)", s.ID, ErrProviderNotConfigured)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("%s: %w (missing API key)", s.ID, ErrProviderNotConfigured)
	}
	if cfg.BaseURL != "" && !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return fmt.Errorf("%s: %w (invalid baseURL %q)", s.ID, ErrProviderNotConfigured, cfg.BaseURL)
	}
	if s.RequiresModelConfig && cfg.Model == "" {
		return fmt.Errorf("%s: %w (missing model endpoint)", s.ID, ErrProviderNotConfigured)
	}
	return nil
}

// NewClient validates cfg and creates a chat model handle for modelID.
func NewClient(ctx context.Context, spec Spec, cfg types.ProviderConfig, modelID string) (model.ToolCallingChatModel, error) {
	if err := spec.Validate(cfg); err != nil {
		return nil, err
	}
	m, err := spec.Factory(ctx, cfg, modelID)
	if err != nil {
		return nil, fmt.Errorf("create %s model %s: %w", spec.ID, modelID, err)
	}
	return m, nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

func maxTokensOr(cfg types.ProviderConfig, def int) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return def
}
