package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/streamd/pkg/types"
)

// Registry resolves provider ids to specs and their configuration.
type Registry struct {
	mu     sync.RWMutex
	specs  map[string]Spec
	config *types.Config
}

// NewRegistry creates a registry with the built-in providers.
func NewRegistry(config *types.Config) *Registry {
	if config == nil {
		config = &types.Config{}
	}
	r := &Registry{
		specs:  make(map[string]Spec),
		config: config,
	}
	r.Register(Anthropic)
	r.Register(OpenAI)
	r.Register(Ark)
	return r
}

// Register adds or replaces a provider spec.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ID] = spec
}

// Get retrieves a provider spec by id.
func (r *Registry) Get(providerID string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[providerID]
	return spec, ok
}

// Config returns the configuration of a provider.
func (r *Registry) Config(providerID string) types.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Provider[providerID]
}

// NewClient creates a chat model for providerID/modelID.
// It fails with ErrProviderNotConfigured when the provider is unknown or
// its configuration is unusable.
func (r *Registry) NewClient(ctx context.Context, providerID, modelID string) (model.ToolCallingChatModel, error) {
	spec, ok := r.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("%s: %w (unknown provider)", providerID, ErrProviderNotConfigured)
	}
	return NewClient(ctx, spec, r.Config(providerID), modelID)
}

// Configured returns the ids of providers with a valid configuration, sorted.
func (r *Registry) Configured() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, spec := range r.specs {
		if spec.Validate(r.config.Provider[id]) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Models lists the known models of all configured providers.
func (r *Registry) Models() []types.Model {
	var models []types.Model
	for _, id := range r.Configured() {
		spec, _ := r.Get(id)
		if spec.Models != nil {
			models = append(models, spec.Models(r.Config(id))...)
		}
	}
	return models
}

// DefaultModel resolves the configured default "provider/model".
func (r *Registry) DefaultModel() (types.ModelRef, error) {
	providerID, modelID := ParseModelString(r.config.Model)
	if providerID == "" || modelID == "" {
		return types.ModelRef{}, fmt.Errorf("invalid default model %q", r.config.Model)
	}
	return types.ModelRef{ProviderID: providerID, ModelID: modelID}, nil
}
