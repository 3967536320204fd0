package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fize-ai/soloqueue/internal/approval"
	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/internal/config"
	"github.com/fize-ai/soloqueue/internal/embedding"
	"github.com/fize-ai/soloqueue/internal/memory"
	"github.com/fize-ai/soloqueue/internal/orchestrator"
	"github.com/fize-ai/soloqueue/internal/providers"
	"github.com/fize-ai/soloqueue/internal/registry"
	"github.com/fize-ai/soloqueue/internal/skills"
	"github.com/fize-ai/soloqueue/internal/store"
	"github.com/fize-ai/soloqueue/internal/tools"
	"github.com/fize-ai/soloqueue/internal/workspace"
)

// app wires every engine component from the loaded configuration.
// Commands build one, use what they need, and Close it.
type app struct {
	cfg        *config.Config
	ws         *workspace.Workspace
	reg        *registry.Registry
	events     *bus.MessageBus
	bridge     *approval.Bridge
	artifacts  *store.ArtifactStore
	gc         *store.GarbageCollector
	sessionLog *memory.SessionLog
	skills     *skills.Loader
	orch       *orchestrator.Orchestrator
}

func newApp() (*app, error) {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}

	reg, err := registry.LoadAll(ws.Root())
	if err != nil {
		return nil, fmt.Errorf("load agent definitions: %w", err)
	}
	if len(reg.Agents()) == 0 {
		slog.Warn("no agents defined", "hint", "add config/agents/<name>/AGENT.md under the workspace")
	}

	artifacts, err := store.NewArtifactStore(ws.Root())
	if err != nil {
		return nil, err
	}
	sessionLog, err := memory.NewSessionLog(ws.Root())
	if err != nil {
		artifacts.Close()
		return nil, err
	}

	events := bus.NewMessageBus()
	bridge := approval.NewBridge(events)
	skillLoader := skills.NewLoader(ws.Root())

	var embedder memory.Embedder
	if cfg.Memory.Enabled && cfg.Embedding.APIKey != "" {
		embedder = embedding.NewClient(
			cfg.Embedding.BaseURL, cfg.Embedding.APIKey,
			cfg.Embedding.Model, cfg.Embedding.Dimension)
		slog.Info("semantic memory enabled", "model", cfg.Embedding.Model)
	} else if cfg.Memory.Enabled {
		slog.Info("semantic memory disabled (no embedding key configured)")
	}

	providerFor := func(model string) providers.Provider {
		return providers.NewOpenAIProvider(
			cfg.Models.Provider, cfg.Models.APIKey, cfg.Models.BaseURL,
			firstNonEmpty(model, cfg.Models.Default))
	}

	resolver := tools.NewResolver(ws, bridge, skillLoader, cfg.Memory.DedupThreshold)

	orch := orchestrator.New(orchestrator.Options{
		Registry:      reg,
		WorkspaceRoot: ws.Root(),
		ProviderFor:   providerFor,
		Events:        events,
		Resolver:      resolver,
		SkillLoader:   skillLoader,
		Artifacts:     artifacts,
		SessionLog:    sessionLog,
		Embedder:      embedder,
	})

	return &app{
		cfg:        cfg,
		ws:         ws,
		reg:        reg,
		events:     events,
		bridge:     bridge,
		artifacts:  artifacts,
		gc:         store.NewGarbageCollector(ws.Root(), artifacts, cfg.Artifacts.RetentionDays),
		sessionLog: sessionLog,
		skills:     skillLoader,
		orch:       orch,
	}, nil
}

// memoryFor builds the memory façade for a group, sharing the app's
// artifact store and session log.
func (a *app) memoryFor(group string) *memory.Manager {
	var embedder memory.Embedder
	if a.cfg.Memory.Enabled && a.cfg.Embedding.APIKey != "" {
		embedder = embedding.NewClient(
			a.cfg.Embedding.BaseURL, a.cfg.Embedding.APIKey,
			a.cfg.Embedding.Model, a.cfg.Embedding.Dimension)
	}
	return memory.NewManager(a.ws.Root(), group, a.artifacts, a.sessionLog, embedder)
}

func (a *app) Close() {
	if a.artifacts != nil {
		a.artifacts.Close()
	}
}

// watchSkills starts the hot-reload watcher; failures are logged, not
// fatal.
func (a *app) watchSkills(ctx context.Context) {
	if err := a.skills.Watch(ctx); err != nil {
		slog.Warn("skills watcher unavailable", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
