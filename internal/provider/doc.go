// Package provider turns provider configuration into eino chat model handles.
//
// Each supported provider is described by a Spec carrying a Factory that
// builds an eino-ext chat model (claude, openai, ark). Clients are created
// per session turn for the session's provider/model pair:
//
//	reg := provider.NewRegistry(cfg)
//	chat, err := reg.NewClient(ctx, "anthropic", "claude-sonnet-4-20250514")
//	if errors.Is(err, provider.ErrProviderNotConfigured) {
//		// missing API key, disabled provider, unknown provider...
//	}
//
// Validation happens before any network activity, so configuration errors
// surface before a stream is started.
package provider
