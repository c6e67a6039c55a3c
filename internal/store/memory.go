package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/btnflow/btnflow/pkg/schema"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
// Values are deep-copied on the way in and out so callers cannot alias
// stored state.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*schema.WorkflowGraph
	actions   map[string]*schema.ActionDefinition
	menus     map[string]*schema.MenuDefinition
	buttons   map[string]*schema.ButtonDefinition
	runs      map[string]*schema.RunResult
	runOrder  []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*schema.WorkflowGraph),
		actions:   make(map[string]*schema.ActionDefinition),
		menus:     make(map[string]*schema.MenuDefinition),
		buttons:   make(map[string]*schema.ButtonDefinition),
		runs:      make(map[string]*schema.RunResult),
	}
}

func deepCopy[T any](src *T) (*T, error) {
	b, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	dst := new(T)
	if err := json.Unmarshal(b, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// --- Workflows ---

func (s *MemoryStore) PutWorkflow(ctx context.Context, g *schema.WorkflowGraph) error {
	if g.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is empty")
	}
	cp, err := deepCopy(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[g.ID] = cp
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowGraph, error) {
	s.mu.RLock()
	g, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return deepCopy(g)
}

func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]schema.WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]schema.WorkflowSummary, 0, len(s.workflows))
	for _, g := range s.workflows {
		summaries = append(summaries, g.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return storeNotFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// --- Actions ---

func (s *MemoryStore) PutAction(ctx context.Context, def *schema.ActionDefinition) error {
	if def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "action id is empty")
	}
	cp, err := deepCopy(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[def.ID] = cp
	return nil
}

func (s *MemoryStore) GetAction(ctx context.Context, id string) (*schema.ActionDefinition, error) {
	s.mu.RLock()
	def, ok := s.actions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("action", id)
	}
	return deepCopy(def)
}

func (s *MemoryStore) ListActions(ctx context.Context) ([]*schema.ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*schema.ActionDefinition, 0, len(s.actions))
	for _, def := range s.actions {
		cp, err := deepCopy(def)
		if err != nil {
			return nil, err
		}
		defs = append(defs, cp)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (s *MemoryStore) DeleteAction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[id]; !ok {
		return storeNotFound("action", id)
	}
	delete(s.actions, id)
	return nil
}

// --- Menus ---

func (s *MemoryStore) PutMenu(ctx context.Context, m *schema.MenuDefinition) error {
	if m.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "menu id is empty")
	}
	cp, err := deepCopy(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus[m.ID] = cp
	return nil
}

func (s *MemoryStore) GetMenu(ctx context.Context, id string) (*schema.MenuDefinition, error) {
	s.mu.RLock()
	m, ok := s.menus[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("menu", id)
	}
	return deepCopy(m)
}

func (s *MemoryStore) ListMenus(ctx context.Context) ([]*schema.MenuDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	menus := make([]*schema.MenuDefinition, 0, len(s.menus))
	for _, m := range s.menus {
		cp, err := deepCopy(m)
		if err != nil {
			return nil, err
		}
		menus = append(menus, cp)
	}
	sort.Slice(menus, func(i, j int) bool { return menus[i].ID < menus[j].ID })
	return menus, nil
}

func (s *MemoryStore) DeleteMenu(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.menus[id]; !ok {
		return storeNotFound("menu", id)
	}
	delete(s.menus, id)
	return nil
}

// --- Buttons ---

func (s *MemoryStore) PutButton(ctx context.Context, b *schema.ButtonDefinition) error {
	if b.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "button id is empty")
	}
	cp, err := deepCopy(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[b.ID] = cp
	return nil
}

func (s *MemoryStore) GetButton(ctx context.Context, id string) (*schema.ButtonDefinition, error) {
	s.mu.RLock()
	b, ok := s.buttons[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("button", id)
	}
	return deepCopy(b)
}

func (s *MemoryStore) ListButtons(ctx context.Context) ([]*schema.ButtonDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buttons := make([]*schema.ButtonDefinition, 0, len(s.buttons))
	for _, b := range s.buttons {
		cp, err := deepCopy(b)
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, cp)
	}
	sort.Slice(buttons, func(i, j int) bool { return buttons[i].ID < buttons[j].ID })
	return buttons, nil
}

func (s *MemoryStore) DeleteButton(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buttons[id]; !ok {
		return storeNotFound("button", id)
	}
	delete(s.buttons, id)
	return nil
}

// --- Runs ---

func (s *MemoryStore) SaveRun(ctx context.Context, r *schema.RunResult) error {
	if r.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is empty")
	}
	cp, err := deepCopy(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.RunID]; !exists {
		s.runOrder = append(s.runOrder, r.RunID)
	}
	s.runs[r.RunID] = cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*schema.RunResult, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("run", id)
	}
	return deepCopy(r)
}

func (s *MemoryStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*schema.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*schema.RunResult
	// Newest first.
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		r := s.runs[s.runOrder[i]]
		if workflowID != "" && r.WorkflowID != workflowID {
			continue
		}
		cp, err := deepCopy(r)
		if err != nil {
			return nil, err
		}
		runs = append(runs, cp)
		if limit > 0 && len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

// --- Maintenance ---

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Vacuum(ctx context.Context) error  { return nil }
func (s *MemoryStore) Close() error                      { return nil }

var _ Store = (*MemoryStore)(nil)
