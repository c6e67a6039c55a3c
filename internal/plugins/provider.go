package plugins

import (
	"context"

	"github.com/btnflow/btnflow/internal/actions"
)

// Provider is an external action source (e.g. an MCP server). A provider is
// opened once at startup and asked for its handler set on every registry
// rebuild, so newly exposed tools appear after a reload.
type Provider interface {
	Name() string
	Open(ctx context.Context) error
	Handlers(ctx context.Context) ([]actions.Handler, error)
	Close() error
}
