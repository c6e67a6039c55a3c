package schema

// WorkflowGraph is the JSON-serializable workflow format persisted by the
// editor and executed by the engine. Node and edge field names match the
// stored format so saved workflows round-trip byte-stable.
type WorkflowGraph struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Nodes       map[string]*NodeSpec `json:"nodes"`
	Edges       []Edge               `json:"edges"`
}

// NodeSpec is one configured action invocation within a workflow graph.
// Config maps parameter names to literal values, template strings, or
// structured condition objects; the reserved ConditionKey entry holds the
// node's execution condition and is never exposed as a regular input.
type NodeSpec struct {
	ID        string         `json:"id"`
	ActionRef string         `json:"action_id"`
	Position  Position       `json:"position"`
	Config    map[string]any `json:"data,omitempty"`
}

// ConditionKey is the reserved Config key holding a node's execution
// condition. It always wins over a regular input of the same name.
const ConditionKey = "__condition__"

// Position is the node's location in the visual editor. Opaque to the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects a named output port of one node to a named input port of
// another. A given (target_node, target_input) pair has at most one
// incoming edge.
type Edge struct {
	ID           string `json:"id,omitempty"`
	SourceNode   string `json:"source_node"`
	SourceOutput string `json:"source_output"`
	TargetNode   string `json:"target_node"`
	TargetInput  string `json:"target_input"`
}

// WorkflowSummary is the listing shape returned by store.ListWorkflows.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	NodeCount   int    `json:"node_count"`
}

// Summary derives a WorkflowSummary from the graph.
func (g *WorkflowGraph) Summary() WorkflowSummary {
	return WorkflowSummary{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		NodeCount:   len(g.Nodes),
	}
}

// Condition returns the node's raw condition config, or nil when absent.
func (n *NodeSpec) Condition() any {
	if n.Config == nil {
		return nil
	}
	return n.Config[ConditionKey]
}

// Inputs returns the node's Config without the reserved condition key.
func (n *NodeSpec) Inputs() map[string]any {
	if n.Config == nil {
		return map[string]any{}
	}
	inputs := make(map[string]any, len(n.Config))
	for k, v := range n.Config {
		if k == ConditionKey {
			continue
		}
		inputs[k] = v
	}
	return inputs
}
