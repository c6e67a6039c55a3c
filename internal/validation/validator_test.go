package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btnflow/btnflow/pkg/schema"
)

type lookupSet map[string]bool

func (l lookupSet) Has(id string) bool { return l[id] }

func validGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		ID: "wf-1",
		Nodes: map[string]*schema.NodeSpec{
			"fetch":  {ID: "fetch", ActionRef: "weather.fetch"},
			"notify": {ID: "notify", ActionRef: "text.show", Config: map[string]any{"text": "{{ variables.fetch.extracted }}"}},
		},
		Edges: []schema.Edge{
			{SourceNode: "fetch", SourceOutput: "extracted", TargetNode: "notify", TargetInput: "value"},
		},
	}
}

func newValidator(t *testing.T, lookup ActionLookup) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator(lookup)
	require.NoError(t, err)
	return v
}

// --- structural stage ---

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	v := newValidator(t, lookupSet{"weather.fetch": true, "text.show": true})
	result := v.Validate(validGraph())
	assert.True(t, result.Valid(), "issues: %+v", result.Errors)
}

func TestValidateNilGraph(t *testing.T) {
	v := newValidator(t, nil)
	result := v.Validate(nil)
	assert.False(t, result.Valid())
}

func TestValidateMissingActionID(t *testing.T) {
	g := validGraph()
	g.Nodes["fetch"].ActionRef = ""
	result := newValidator(t, nil).Validate(g)

	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Path, "fetch")
}

func TestValidateEmptyNodes(t *testing.T) {
	g := &schema.WorkflowGraph{ID: "wf", Nodes: map[string]*schema.NodeSpec{}}
	result := newValidator(t, nil).Validate(g)
	assert.False(t, result.Valid())
}

// --- semantic stage ---

func TestValidateUnknownAction(t *testing.T) {
	v := newValidator(t, lookupSet{"text.show": true})
	result := v.Validate(validGraph())

	require.False(t, result.Valid())
	assert.Equal(t, "nodes.fetch.action_id", result.Errors[0].Path)
}

func TestValidateNilLookupSkipsActionChecks(t *testing.T) {
	result := newValidator(t, nil).Validate(validGraph())
	assert.True(t, result.Valid())
}

func TestValidateDanglingEdge(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, schema.Edge{
		SourceNode: "ghost", SourceOutput: "x", TargetNode: "notify", TargetInput: "y",
	})
	result := newValidator(t, nil).Validate(g)

	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Path, "source_node")
}

func TestValidateDuplicateInputWiring(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, schema.Edge{
		SourceNode: "fetch", SourceOutput: "status_code", TargetNode: "notify", TargetInput: "value",
	})
	result := newValidator(t, nil).Validate(g)

	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "wired twice")
}

func TestValidateSelfEdge(t *testing.T) {
	g := validGraph()
	g.Edges = []schema.Edge{
		{SourceNode: "fetch", SourceOutput: "x", TargetNode: "fetch", TargetInput: "y"},
	}
	result := newValidator(t, nil).Validate(g)

	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestValidateConditionShapes(t *testing.T) {
	cases := []struct {
		name  string
		cond  any
		valid bool
	}{
		{"absent", nil, true},
		{"bool", true, true},
		{"template string", "{{ inputs.flag }}", true},
		{"structured input", map[string]any{"type": "input", "name": "flag"}, true},
		{"structured cel", map[string]any{"type": "cel", "expression": "1 < 2"}, true},
		{"structured jq", map[string]any{"type": "jq", "expression": ".inputs.flag"}, true},
		{"unknown type", map[string]any{"type": "quantum"}, false},
		{"input without name", map[string]any{"type": "input"}, false},
		{"expr without expression", map[string]any{"type": "expr"}, false},
		{"jq without expression", map[string]any{"type": "jq"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := validGraph()
			if tc.cond != nil {
				g.Nodes["notify"].Config[schema.ConditionKey] = tc.cond
			}
			result := newValidator(t, nil).Validate(g)
			assert.Equal(t, tc.valid, result.Valid(), "issues: %+v", result.Errors)
		})
	}
}

// --- graph stage ---

func TestValidateCycle(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, schema.Edge{
		SourceNode: "notify", SourceOutput: "v", TargetNode: "fetch", TargetInput: "w",
	})
	result := newValidator(t, nil).Validate(g)

	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "fetch")
}

// --- action documents ---

func TestValidateActionDoc(t *testing.T) {
	v := newValidator(t, nil)

	ok := &schema.ActionDefinition{
		ID:   "weather.fetch",
		Kind: schema.KindHTTP,
		Config: map[string]any{
			"request": map[string]any{"method": "GET", "url": "https://api.example.com/w"},
		},
	}
	assert.True(t, v.ValidateAction(ok).Valid())

	badKind := &schema.ActionDefinition{ID: "x", Kind: "carrier-pigeon"}
	assert.False(t, v.ValidateAction(badKind).Valid())

	badPort := &schema.ActionDefinition{
		ID: "x", Kind: schema.KindBuiltin,
		Inputs: []schema.PortSpec{{Name: "v", Type: "bool"}},
	}
	assert.False(t, v.ValidateAction(badPort).Valid())
}
