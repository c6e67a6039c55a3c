package plugins

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Reloader rebuilds the action registry on a cron schedule, so actions
// edited in the store and tools added to MCP servers become callable
// without a restart.
type Reloader struct {
	cron    *cron.Cron
	manager *Manager
	logger  *slog.Logger
}

// NewReloader schedules Reload per the cron spec (standard 5-field syntax,
// e.g. "*/5 * * * *" for every five minutes).
func NewReloader(m *Manager, spec string, logger *slog.Logger) (*Reloader, error) {
	r := &Reloader{
		cron:    cron.New(),
		manager: m,
		logger:  logger,
	}

	_, err := r.cron.AddFunc(spec, func() {
		if err := m.Reload(context.Background()); err != nil {
			logger.Error("scheduled registry reload failed",
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the schedule in its own goroutine.
func (r *Reloader) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running reload to finish.
func (r *Reloader) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
