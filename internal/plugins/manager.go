package plugins

import (
	"context"
	"log/slog"
	"sync"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/internal/store"
	"github.com/btnflow/btnflow/pkg/schema"
)

// Manager composes the action registry from three sources: built-in
// handlers, user-defined HTTP actions from the store, and provider tools.
// Reload builds a fresh registry and swaps it in atomically; in-flight runs
// keep the snapshot they resolved against.
type Manager struct {
	store     store.Store
	providers []Provider
	httpCfg   actions.HTTPConfig
	logger    *slog.Logger

	mu      sync.RWMutex
	current *actions.Registry
}

// NewManager creates a Manager. Call Load before first use.
func NewManager(s store.Store, httpCfg actions.HTTPConfig, logger *slog.Logger, providers ...Provider) *Manager {
	return &Manager{
		store:     s,
		providers: providers,
		httpCfg:   httpCfg,
		logger:    logger,
		current:   actions.NewRegistry(),
	}
}

// Registry returns the current registry snapshot.
func (m *Manager) Registry() *actions.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Load opens all providers and performs the initial registry build.
func (m *Manager) Load(ctx context.Context) error {
	for _, p := range m.providers {
		if err := p.Open(ctx); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution,
				"open provider %q: %s", p.Name(), err.Error()).WithCause(err)
		}
		m.logger.Info("provider opened", slog.String("provider", p.Name()))
	}
	return m.Reload(ctx)
}

// Reload rebuilds the registry from all sources and swaps it in. A failing
// provider is logged and skipped so one dead MCP server cannot take down
// the built-ins.
func (m *Manager) Reload(ctx context.Context) error {
	reg := actions.NewRegistry()

	if err := actions.RegisterBuiltins(reg); err != nil {
		return err
	}

	defs, err := m.store.ListActions(ctx)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "list actions for reload").WithCause(err)
	}
	for _, def := range defs {
		if def.Kind != schema.KindHTTP {
			continue
		}
		// Replace, not Register: a stored action may shadow nothing but must
		// never fail the reload on an ID already seen.
		if err := reg.Replace(actions.NewHTTPHandler(*def, m.httpCfg)); err != nil {
			m.logger.Warn("skipping stored action",
				slog.String("action_id", def.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, p := range m.providers {
		handlers, err := p.Handlers(ctx)
		if err != nil {
			m.logger.Warn("provider handlers unavailable",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, h := range handlers {
			if err := reg.Register(h); err != nil {
				m.logger.Warn("skipping provider action",
					slog.String("provider", p.Name()),
					slog.String("action_id", h.Definition().ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.mu.Lock()
	m.current = reg
	m.mu.Unlock()

	m.logger.Info("action registry rebuilt", slog.Int("actions", reg.Count()))
	return nil
}

// Close shuts down all providers.
func (m *Manager) Close() error {
	var lastErr error
	for _, p := range m.providers {
		if err := p.Close(); err != nil {
			lastErr = err
			m.logger.Error("provider close failed",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return lastErr
}
