package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/internal/expressions"
	"github.com/btnflow/btnflow/internal/logging"
	"github.com/btnflow/btnflow/internal/template"
	"github.com/btnflow/btnflow/pkg/schema"
)

// RegistrySource yields the current action registry snapshot. The plugin
// manager satisfies this; each run pins one snapshot at start.
type RegistrySource interface {
	Registry() *actions.Registry
}

// StaticRegistry adapts a fixed registry into a RegistrySource.
type StaticRegistry struct{ Reg *actions.Registry }

func (s StaticRegistry) Registry() *actions.Registry { return s.Reg }

// RunnerConfig tunes run execution.
type RunnerConfig struct {
	// Parallelism bounds concurrent nodes within a level. Defaults to 4.
	Parallelism int
	// NodeTimeout caps a single handler invocation. Zero means no cap
	// beyond the run context.
	NodeTimeout time.Duration
}

// Runner executes workflow graphs. Safe for concurrent use; each run gets
// its own scope, pool, and result set.
type Runner struct {
	source     RegistrySource
	cfg        RunnerConfig
	render     *template.Engine
	conditions *ConditionEvaluator
	logger     *slog.Logger
}

// NewRunner builds a runner with shared expression engines. The CEL
// environment is compiled once here rather than per run.
func NewRunner(source RegistrySource, cfg RunnerConfig, logger *slog.Logger) (*Runner, error) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	render := template.New()

	return &Runner{
		source:     source,
		cfg:        cfg,
		render:     render,
		conditions: NewConditionEvaluator(render, expressions.NewExprEngine(), celEngine, expressions.NewGoJQEngine()),
		logger:     logger,
	}, nil
}

// Run executes a workflow graph for one trigger. Structural problems
// (unknown actions, bad edges, cycles) return an error before anything
// runs; node failures are recorded in the result with Success=false.
func (r *Runner) Run(ctx context.Context, graph *schema.WorkflowGraph, trigger schema.Trigger) (*schema.RunResult, error) {
	dag, err := BuildDAG(graph, r.source.Registry())
	if err != nil {
		return nil, err
	}

	runID := schema.NewRunID()
	ctx = logging.WithIDs(ctx, runID, graph.ID, "")
	logger := r.logger.With("run_id", runID, "workflow_id", graph.ID)
	logger.Info("run started",
		"nodes", len(dag.Nodes),
		"levels", len(dag.Levels),
		"preview", trigger.Preview)

	state := &runState{
		scope:   template.NewScope(trigger.Runtime, trigger.Button, trigger.Menu, trigger.Variables),
		results: make(map[string]*schema.NodeResult, len(dag.Nodes)),
	}

	pool := newNodePool(r.cfg.Parallelism)
	defer pool.Shutdown()

	started := time.Now().UTC()

	for _, level := range dag.Levels {
		var wg sync.WaitGroup
		submitErrs := make(chan error, len(level))

		for _, nodeID := range level {
			nodeID := nodeID
			wg.Add(1)
			err := pool.Submit(ctx, func(ctx context.Context) error {
				defer wg.Done()
				r.executeNode(ctx, dag, nodeID, trigger.Preview, state, logger)
				return nil
			})
			if err != nil {
				wg.Done()
				submitErrs <- err
			}
		}

		wg.Wait()
		close(submitErrs)
		if err := <-submitErrs; err != nil {
			// Only cancellation or shutdown lands here; node failures are
			// recorded in state, never returned by Submit.
			return nil, asRunError(err)
		}
	}

	result := r.collect(runID, graph.ID, dag, state, started)
	logger.Info("run finished",
		"success", result.Success,
		"duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds())
	return result, nil
}

// DryRun executes the graph in preview mode regardless of the trigger flag.
func (r *Runner) DryRun(ctx context.Context, graph *schema.WorkflowGraph, trigger schema.Trigger) (*schema.RunResult, error) {
	trigger.Preview = true
	return r.Run(ctx, graph, trigger)
}

// runState is the shared mutable state of one run. The mutex guards both
// the result map and scope mutation, so concurrent level nodes publish
// outputs atomically.
type runState struct {
	mu      sync.Mutex
	scope   *template.Scope
	results map[string]*schema.NodeResult
}

func (s *runState) record(res *schema.NodeResult, outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.NodeID] = res
	if res.Status == schema.NodeStatusSuccess {
		s.scope.AddNodeOutputs(res.NodeID, outputs)
	}
}

// snapshot returns the upstream results a node needs, read under the lock.
func (s *runState) snapshot(deps []string) map[string]*schema.NodeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*schema.NodeResult, len(deps))
	for _, dep := range deps {
		out[dep] = s.results[dep]
	}
	return out
}

// executeNode runs one node end to end: upstream gate, input resolution,
// condition, handler invocation, output partitioning. Every outcome is
// recorded; this function never returns an error to the pool.
func (r *Runner) executeNode(ctx context.Context, dag *DAG, nodeID string, preview bool, state *runState, logger *slog.Logger) {
	node := dag.Nodes[nodeID]
	res := &schema.NodeResult{NodeID: nodeID, ActionRef: node.ActionRef}
	ctx = logging.WithNodeID(ctx, nodeID)
	nodeLog := logger.With("node_id", nodeID, "action_id", node.ActionRef)

	upstream := state.snapshot(dag.Deps[nodeID])
	inputs, skip, err := r.resolveInputs(dag, nodeID, upstream, state)
	if skip {
		res.Status = schema.NodeStatusSkipped
		nodeLog.Debug("node skipped", "reason", "unfed upstream input")
		state.record(res, nil)
		return
	}
	if err != nil {
		res.Status = schema.NodeStatusFailed
		res.Error = schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(nodeID)
		nodeLog.Warn("node failed", "stage", "inputs", "error", err)
		state.record(res, nil)
		return
	}

	nodeScope := r.nodeScope(state, inputs)

	run, err := r.conditions.ShouldRun(ctx, node.Condition(), nodeScope)
	if err != nil {
		res.Status = schema.NodeStatusFailed
		res.Error = schema.AsFlowError(err, schema.ErrCodeConfig).WithNode(nodeID)
		nodeLog.Warn("node failed", "stage", "condition", "error", err)
		state.record(res, nil)
		return
	}
	if !run {
		res.Status = schema.NodeStatusSkipped
		nodeLog.Debug("node skipped", "reason", "condition false")
		state.record(res, nil)
		return
	}

	callCtx := ctx
	if r.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.NodeTimeout)
		defer cancel()
	}

	begin := time.Now()
	raw, err := actions.SafeInvoke(callCtx, dag.Handlers[nodeID], actions.Call{
		Inputs:  inputs,
		Scope:   nodeScope,
		Preview: preview,
	})
	res.DurationMs = time.Since(begin).Milliseconds()

	if err != nil {
		res.Status = schema.NodeStatusFailed
		res.Error = invokeError(callCtx, err).WithNode(nodeID)
		nodeLog.Warn("node failed", "stage", "invoke", "error", err, "duration_ms", res.DurationMs)
		state.record(res, nil)
		return
	}

	outputs, control := partitionOutputs(raw, dag.Handlers[nodeID].Definition())
	res.Status = schema.NodeStatusSuccess
	res.Outputs = outputs
	res.Control = control
	nodeLog.Debug("node completed", "duration_ms", res.DurationMs, "outputs", len(outputs))
	state.record(res, outputs)
}

// nodeScope builds the node-local view under the state lock, so a node
// starting mid-level still sees a consistent variables arena.
func (r *Runner) nodeScope(state *runState, inputs map[string]any) *template.Scope {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.scope.ForNode(inputs)
}

// resolveInputs produces the node's final input map. Per input name the
// precedence is: wired edge value, rendered config value, declared default.
// An input wired from a skipped or failed upstream falls through to config
// and default; when nothing else can feed it the node is skipped, which is
// how skip cascades. A successful upstream missing the named output is a
// contract violation and fails the node instead.
func (r *Runner) resolveInputs(dag *DAG, nodeID string, upstream map[string]*schema.NodeResult, state *runState) (map[string]any, bool, error) {
	node := dag.Nodes[nodeID]
	def := dag.Handlers[nodeID].Definition()

	resolved := make(map[string]any)
	unfed := make(map[string]bool)

	for _, edge := range dag.InputEdges[nodeID] {
		up := upstream[edge.SourceNode]
		if up == nil || up.Status != schema.NodeStatusSuccess {
			unfed[edge.TargetInput] = true
			continue
		}
		val, ok := up.Outputs[edge.SourceOutput]
		if !ok {
			return nil, false, schema.NewErrorf(schema.ErrCodeMissingUpstream,
				"node %q produced no output %q", edge.SourceNode, edge.SourceOutput).
				WithDetails(map[string]any{"edge": edgeLabel(edge)})
		}
		resolved[edge.TargetInput] = val
	}

	// Config values render against the run scope with edge-fed inputs
	// already visible, so a config template can reference them. Edge
	// values win over config for the same input name.
	edgeFed := make(map[string]any, len(resolved))
	for name, val := range resolved {
		edgeFed[name] = val
	}
	configScope := r.nodeScope(state, edgeFed)
	for name, raw := range node.Inputs() {
		if _, ok := resolved[name]; ok {
			continue
		}
		val, err := r.render.RenderStructure(raw, configScope)
		if err != nil {
			return nil, false, err
		}
		resolved[name] = val
	}

	for _, port := range def.Inputs {
		if _, ok := resolved[port.Name]; ok {
			continue
		}
		if port.Default != nil {
			resolved[port.Name] = port.Default
			continue
		}
		if unfed[port.Name] {
			continue
		}
		if port.Required {
			return nil, false, schema.NewErrorf(schema.ErrCodeMissingInput,
				"required input %q of node %q is not provided", port.Name, nodeID)
		}
	}

	// Any edge-fed input still unresolved means its only feed did not run.
	for name := range unfed {
		if _, ok := resolved[name]; !ok {
			return nil, true, nil
		}
	}

	return resolved, false, nil
}

// collect assembles the final RunResult in deterministic topological order.
func (r *Runner) collect(runID, workflowID string, dag *DAG, state *runState, started time.Time) *schema.RunResult {
	state.mu.Lock()
	defer state.mu.Unlock()

	result := &schema.RunResult{
		RunID:       runID,
		WorkflowID:  workflowID,
		Success:     true,
		Nodes:       make([]*schema.NodeResult, 0, len(dag.Sorted)),
		Variables:   state.scope.Variables,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}

	for _, nodeID := range dag.Sorted {
		res := state.results[nodeID]
		if res == nil {
			res = &schema.NodeResult{NodeID: nodeID, Status: schema.NodeStatusSkipped}
		}
		result.Nodes = append(result.Nodes, res)
		if res.Status == schema.NodeStatusFailed {
			result.Success = false
			if result.Error == nil {
				result.Error = res.Error
			}
		}
	}

	result.Aggregate = AggregateEffects(result.Nodes)
	return result
}

// partitionOutputs splits a handler's raw outcome into data outputs and
// control effects using the reserved key set. When the definition declares
// output ports, undeclared data keys are dropped; definitions without
// declared outputs (HTTP actions) keep everything.
func partitionOutputs(raw map[string]any, def schema.ActionDefinition) (map[string]any, *schema.ControlEffects) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	outputs := make(map[string]any, len(raw))
	control := &schema.ControlEffects{}
	for key, val := range raw {
		if !schema.ControlKeys[key] {
			if len(def.Outputs) == 0 || def.Output(key) != nil {
				outputs[key] = val
			}
			continue
		}
		switch key {
		case schema.ControlNewText:
			text := stringValue(val)
			control.NewText = &text
		case schema.ControlParseMode:
			control.ParseMode = stringValue(val)
		case schema.ControlNextMenuID:
			control.NextMenuID = stringValue(val)
		case schema.ControlNotification:
			if m, ok := val.(map[string]any); ok {
				control.Notification = m
			}
		case schema.ControlButtonOverrides:
			control.ButtonOverrides = overrideList(val)
		case schema.ControlButtonTitle:
			control.ButtonTitle = stringValue(val)
		}
	}

	if control.Empty() {
		control = nil
	}
	return outputs, control
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func overrideList(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{list}
	default:
		return nil
	}
}

// invokeError maps a handler failure to a FlowError, preferring context
// codes when the deadline or cancellation caused it.
func invokeError(ctx context.Context, err error) *schema.FlowError {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return schema.NewError(schema.ErrCodeTimeout, "node timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return schema.NewError(schema.ErrCodeCancelled, "node cancelled").WithCause(err)
	default:
		return schema.AsFlowError(err, schema.ErrCodeHandler)
	}
}

func asRunError(err error) error {
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "run deadline exceeded").WithCause(err)
	}
	return schema.AsFlowError(err, schema.ErrCodeExecution)
}
