package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/btnflow/btnflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite
// fork). Entities are stored as JSON blobs keyed by ID; runs additionally
// index on workflow_id for history queries.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/btnflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) PutWorkflow(ctx context.Context, g *schema.WorkflowGraph) error {
	if g.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is empty")
	}
	return s.putBlob(ctx, "workflows", g.ID, g)
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowGraph, error) {
	g := &schema.WorkflowGraph{}
	if err := s.getBlob(ctx, "workflows", "workflow", id, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]schema.WorkflowSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM workflows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []schema.WorkflowSummary
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		g := &schema.WorkflowGraph{}
		if err := json.Unmarshal([]byte(body), g); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		summaries = append(summaries, g.Summary())
	}
	return summaries, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	return s.deleteBlob(ctx, "workflows", "workflow", id)
}

// --- Actions ---

func (s *LibSQLStore) PutAction(ctx context.Context, def *schema.ActionDefinition) error {
	if def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "action id is empty")
	}
	return s.putBlob(ctx, "actions", def.ID, def)
}

func (s *LibSQLStore) GetAction(ctx context.Context, id string) (*schema.ActionDefinition, error) {
	def := &schema.ActionDefinition{}
	if err := s.getBlob(ctx, "actions", "action", id, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *LibSQLStore) ListActions(ctx context.Context) ([]*schema.ActionDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM actions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.ActionDefinition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		def := &schema.ActionDefinition{}
		if err := json.Unmarshal([]byte(body), def); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteAction(ctx context.Context, id string) error {
	return s.deleteBlob(ctx, "actions", "action", id)
}

// --- Menus ---

func (s *LibSQLStore) PutMenu(ctx context.Context, m *schema.MenuDefinition) error {
	if m.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "menu id is empty")
	}
	return s.putBlob(ctx, "menus", m.ID, m)
}

func (s *LibSQLStore) GetMenu(ctx context.Context, id string) (*schema.MenuDefinition, error) {
	m := &schema.MenuDefinition{}
	if err := s.getBlob(ctx, "menus", "menu", id, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *LibSQLStore) ListMenus(ctx context.Context) ([]*schema.MenuDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM menus ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var menus []*schema.MenuDefinition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		m := &schema.MenuDefinition{}
		if err := json.Unmarshal([]byte(body), m); err != nil {
			return nil, fmt.Errorf("unmarshal menu: %w", err)
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

func (s *LibSQLStore) DeleteMenu(ctx context.Context, id string) error {
	return s.deleteBlob(ctx, "menus", "menu", id)
}

// --- Buttons ---

func (s *LibSQLStore) PutButton(ctx context.Context, b *schema.ButtonDefinition) error {
	if b.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "button id is empty")
	}
	return s.putBlob(ctx, "buttons", b.ID, b)
}

func (s *LibSQLStore) GetButton(ctx context.Context, id string) (*schema.ButtonDefinition, error) {
	b := &schema.ButtonDefinition{}
	if err := s.getBlob(ctx, "buttons", "button", id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *LibSQLStore) ListButtons(ctx context.Context) ([]*schema.ButtonDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM buttons ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buttons []*schema.ButtonDefinition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		b := &schema.ButtonDefinition{}
		if err := json.Unmarshal([]byte(body), b); err != nil {
			return nil, fmt.Errorf("unmarshal button: %w", err)
		}
		buttons = append(buttons, b)
	}
	return buttons, rows.Err()
}

func (s *LibSQLStore) DeleteButton(ctx context.Context, id string) error {
	return s.deleteBlob(ctx, "buttons", "button", id)
}

// --- Runs ---

func (s *LibSQLStore) SaveRun(ctx context.Context, r *schema.RunResult) error {
	if r.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is empty")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, success, started_at, body) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET success=excluded.success, body=excluded.body`,
		r.RunID, r.WorkflowID, r.Success, r.StartedAt, string(body),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.RunResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	r := &schema.RunResult{}
	if err := json.Unmarshal([]byte(body), r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return r, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*schema.RunResult, error) {
	query := `SELECT body FROM runs`
	var args []any
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.RunResult
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r := &schema.RunResult{}
		if err := json.Unmarshal([]byte(body), r); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Blob helpers ---

func (s *LibSQLStore) putBlob(ctx context.Context, table, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, body, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body, updated_at=CURRENT_TIMESTAMP`, table)
	_, err = s.db.ExecContext(ctx, query, id, string(body))
	return err
}

func (s *LibSQLStore) getBlob(ctx context.Context, table, resource, id string, out any) error {
	var body string
	query := fmt.Sprintf(`SELECT body FROM %s WHERE id = ?`, table)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&body)
	if err == sql.ErrNoRows {
		return storeNotFound(resource, id)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", resource, err)
	}
	return nil
}

func (s *LibSQLStore) deleteBlob(ctx context.Context, table, resource, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

var _ Store = (*LibSQLStore)(nil)
