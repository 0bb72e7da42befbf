package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/opencode-ai/streamd/internal/config"
	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/provider"
	"github.com/opencode-ai/streamd/internal/session"
	"github.com/opencode-ai/streamd/internal/storage"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

// app holds the components shared by the commands.
type app struct {
	config  *types.Config
	store   *storage.Store
	bus     *event.Bus
	service *session.Service
}

// appOptions tunes newApp for a command.
type appOptions struct {
	// Model, when set, replaces the configured default model.
	Model string

	// Titles names sessions after their first turn.
	Titles bool

	// Asker answers the question tool. Nil leaves questions pending until
	// answered through the service.
	Asker tool.Asker
}

// newApp loads configuration for workDir and opens the session store.
func newApp(workDir string, opts appOptions) (*app, error) {
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}

	store, err := storage.Open(config.DatabasePath(cfg))
	if err != nil {
		return nil, err
	}

	providerID, modelID := provider.ParseModelString(cfg.Model)
	disabled := make(map[string]bool)
	for name, enabled := range cfg.Tools {
		if !enabled {
			disabled[name] = true
		}
	}

	bus := event.NewBus()
	svc := session.NewService(store, provider.NewRegistry(cfg), session.ServiceOptions{
		Bus:            bus,
		Sampler:        sysstatus.NewHostSampler(),
		DisabledTools:  disabled,
		DefaultModel:   types.ModelRef{ProviderID: providerID, ModelID: modelID},
		Instructions:   cfg.Instructions,
		GenerateTitles: opts.Titles,
		Asker:          opts.Asker,
	})

	return &app{config: cfg, store: store, bus: bus, service: svc}, nil
}

// recoverInterrupted marks messages left active by a process that died
// mid-stream as errored. Only the server owns the store long enough to call
// it; a one-shot command would clobber the live streams of a running server.
func (a *app) recoverInterrupted(ctx context.Context) error {
	recovered, err := a.store.RecoverActiveMessages(ctx)
	if err != nil {
		return fmt.Errorf("recover active messages: %w", err)
	}
	if recovered > 0 {
		logging.Warn().Int64("count", recovered).Msg("Marked interrupted messages as error")
	}
	return nil
}

// close aborts running streams, waits for them to be persisted and closes
// the store.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.service.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Session service shutdown")
	}
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("Store close")
	}
}
