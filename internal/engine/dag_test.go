package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/pkg/schema"
)

// --- helpers ---

type fakeHandler struct {
	def schema.ActionDefinition
	fn  func(ctx context.Context, call actions.Call) (map[string]any, error)
}

func (f *fakeHandler) Definition() schema.ActionDefinition { return f.def }

func (f *fakeHandler) Invoke(ctx context.Context, call actions.Call) (map[string]any, error) {
	if f.fn == nil {
		return map[string]any{}, nil
	}
	return f.fn(ctx, call)
}

func handler(id string, fn func(ctx context.Context, call actions.Call) (map[string]any, error)) *fakeHandler {
	return &fakeHandler{
		def: schema.ActionDefinition{ID: id, Name: id, Kind: schema.KindBuiltin},
		fn:  fn,
	}
}

func handlerWithPorts(id string, inputs, outputs []schema.PortSpec, fn func(ctx context.Context, call actions.Call) (map[string]any, error)) *fakeHandler {
	return &fakeHandler{
		def: schema.ActionDefinition{
			ID: id, Name: id, Kind: schema.KindBuiltin,
			Inputs: inputs, Outputs: outputs,
		},
		fn: fn,
	}
}

func testRegistry(t *testing.T, handlers ...actions.Handler) *actions.Registry {
	t.Helper()
	reg := actions.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	return reg
}

func node(id, actionRef string, config map[string]any) *schema.NodeSpec {
	return &schema.NodeSpec{ID: id, ActionRef: actionRef, Config: config}
}

func edge(src, out, tgt, in string) schema.Edge {
	return schema.Edge{SourceNode: src, SourceOutput: out, TargetNode: tgt, TargetInput: in}
}

func graph(nodes []*schema.NodeSpec, edges ...schema.Edge) *schema.WorkflowGraph {
	g := &schema.WorkflowGraph{ID: "wf-test", Nodes: map[string]*schema.NodeSpec{}, Edges: edges}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	return g
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return schema.AsFlowError(err, schema.ErrCodeExecution).Code
}

// --- DAG construction ---

func TestBuildDAGLinearChain(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph(
		[]*schema.NodeSpec{node("a", "noop", nil), node("b", "noop", nil), node("c", "noop", nil)},
		edge("a", "x", "b", "x"),
		edge("b", "x", "c", "x"),
	)

	dag, err := BuildDAG(g, reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, dag.Sorted)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, dag.Levels)
	assert.Equal(t, []string{"b"}, dag.Deps["c"])
}

func TestBuildDAGDiamondLevels(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph(
		[]*schema.NodeSpec{
			node("top", "noop", nil), node("left", "noop", nil),
			node("right", "noop", nil), node("join", "noop", nil),
		},
		edge("top", "v", "left", "v"),
		edge("top", "v", "right", "v"),
		edge("left", "v", "join", "l"),
		edge("right", "v", "join", "r"),
	)

	dag, err := BuildDAG(g, reg)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"top"}, {"left", "right"}, {"join"}}, dag.Levels)
	assert.Len(t, dag.InputEdges["join"], 2)
}

func TestBuildDAGDisconnectedNodesShareLevelZero(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph([]*schema.NodeSpec{node("b", "noop", nil), node("a", "noop", nil)})

	dag, err := BuildDAG(g, reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, dag.Sorted)
	assert.Equal(t, [][]string{{"a", "b"}}, dag.Levels)
}

// --- validation failures ---

func TestBuildDAGUnknownAction(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph([]*schema.NodeSpec{node("a", "does.not.exist", nil)})

	_, err := BuildDAG(g, reg)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))
}

func TestBuildDAGMissingActionRef(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph([]*schema.NodeSpec{node("a", "", nil)})

	_, err := BuildDAG(g, reg)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))
}

func TestBuildDAGDanglingEdge(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph(
		[]*schema.NodeSpec{node("a", "noop", nil)},
		edge("a", "x", "ghost", "x"),
	)

	_, err := BuildDAG(g, reg)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))
}

func TestBuildDAGDuplicateTargetInput(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph(
		[]*schema.NodeSpec{node("a", "noop", nil), node("b", "noop", nil), node("c", "noop", nil)},
		edge("a", "x", "c", "value"),
		edge("b", "x", "c", "value"),
	)

	_, err := BuildDAG(g, reg)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))
	assert.Contains(t, err.Error(), "wired twice")
}

func TestBuildDAGSelfEdge(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph(
		[]*schema.NodeSpec{node("a", "noop", nil)},
		edge("a", "x", "a", "x"),
	)

	_, err := BuildDAG(g, reg)
	assert.Equal(t, schema.ErrCodeCycleDetected, errCode(t, err))
}

func TestBuildDAGCycle(t *testing.T) {
	reg := testRegistry(t, handler("noop", nil))
	g := graph(
		[]*schema.NodeSpec{node("a", "noop", nil), node("b", "noop", nil), node("c", "noop", nil)},
		edge("a", "x", "b", "x"),
		edge("b", "x", "c", "x"),
		edge("c", "x", "a", "y"),
	)

	_, err := BuildDAG(g, reg)
	assert.Equal(t, schema.ErrCodeCycleDetected, errCode(t, err))
}

// --- port enforcement ---

func TestBuildDAGChecksDeclaredPorts(t *testing.T) {
	src := handlerWithPorts("producer",
		nil,
		[]schema.PortSpec{{Name: "result", Type: "string"}},
		nil)
	tgt := handlerWithPorts("consumer",
		[]schema.PortSpec{{Name: "value", Type: "string", Required: true}},
		nil,
		nil)
	reg := testRegistry(t, src, tgt)

	ok := graph(
		[]*schema.NodeSpec{node("p", "producer", nil), node("c", "consumer", nil)},
		edge("p", "result", "c", "value"),
	)
	_, err := BuildDAG(ok, reg)
	require.NoError(t, err)

	badOut := graph(
		[]*schema.NodeSpec{node("p", "producer", nil), node("c", "consumer", nil)},
		edge("p", "nope", "c", "value"),
	)
	_, err = BuildDAG(badOut, reg)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))

	badIn := graph(
		[]*schema.NodeSpec{node("p", "producer", nil), node("c", "consumer", nil)},
		edge("p", "result", "c", "nope"),
	)
	_, err = BuildDAG(badIn, reg)
	assert.Equal(t, schema.ErrCodeConfig, errCode(t, err))
}

func TestBuildDAGOpenPortsWhenUndeclared(t *testing.T) {
	// Handlers without declared ports accept any wiring; HTTP actions
	// derive their outputs from config.
	reg := testRegistry(t, handler("open", nil))
	g := graph(
		[]*schema.NodeSpec{node("a", "open", nil), node("b", "open", nil)},
		edge("a", "anything", "b", "whatever"),
	)

	_, err := BuildDAG(g, reg)
	assert.NoError(t, err)
}
