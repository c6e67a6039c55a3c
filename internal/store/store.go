package store

import (
	"context"

	"github.com/btnflow/btnflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	PutWorkflow(ctx context.Context, g *schema.WorkflowGraph) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowGraph, error)
	ListWorkflows(ctx context.Context) ([]schema.WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Actions (user-defined HTTP action configs)
	PutAction(ctx context.Context, def *schema.ActionDefinition) error
	GetAction(ctx context.Context, id string) (*schema.ActionDefinition, error)
	ListActions(ctx context.Context) ([]*schema.ActionDefinition, error)
	DeleteAction(ctx context.Context, id string) error

	// Menus
	PutMenu(ctx context.Context, m *schema.MenuDefinition) error
	GetMenu(ctx context.Context, id string) (*schema.MenuDefinition, error)
	ListMenus(ctx context.Context) ([]*schema.MenuDefinition, error)
	DeleteMenu(ctx context.Context, id string) error

	// Buttons
	PutButton(ctx context.Context, b *schema.ButtonDefinition) error
	GetButton(ctx context.Context, id string) (*schema.ButtonDefinition, error)
	ListButtons(ctx context.Context) ([]*schema.ButtonDefinition, error)
	DeleteButton(ctx context.Context, id string) error

	// Run history
	SaveRun(ctx context.Context, r *schema.RunResult) error
	GetRun(ctx context.Context, id string) (*schema.RunResult, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*schema.RunResult, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
