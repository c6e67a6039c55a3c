package engine

import (
	"fmt"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/pkg/schema"
)

// DAG is the in-memory executable form of a workflow graph. Built once per
// run against a registry snapshot, so node action definitions cannot change
// mid-run.
type DAG struct {
	Nodes      map[string]*schema.NodeSpec
	Handlers   map[string]actions.Handler // node ID → resolved handler
	Deps       map[string][]string        // node ID → upstream node IDs
	Reverse    map[string][]string        // node ID → downstream node IDs
	InputEdges map[string][]schema.Edge   // node ID → incoming edges
	Sorted     []string                   // topological order
	Levels     [][]string                 // parallel execution levels
}

// BuildDAG validates a workflow graph against the registry and compiles it
// into execution order. All structural problems surface here as CONFIG_ERROR
// before any node runs; only cycles get their own code.
func BuildDAG(g *schema.WorkflowGraph, reg *actions.Registry) (*DAG, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "workflow graph is nil")
	}

	dag := &DAG{
		Nodes:      make(map[string]*schema.NodeSpec, len(g.Nodes)),
		Handlers:   make(map[string]actions.Handler, len(g.Nodes)),
		Deps:       make(map[string][]string, len(g.Nodes)),
		Reverse:    make(map[string][]string, len(g.Nodes)),
		InputEdges: make(map[string][]schema.Edge, len(g.Nodes)),
	}

	// First pass: register nodes and resolve their actions.
	for id, node := range g.Nodes {
		if node == nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "node %q is null", id)
		}
		if node.ID == "" {
			node.ID = id
		} else if node.ID != id {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"node keyed %q declares mismatched id %q", id, node.ID)
		}
		if node.ActionRef == "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "node %q has no action_id", id).WithNode(id)
		}

		h, err := reg.Resolve(node.ActionRef)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"node %q references unknown action %q", id, node.ActionRef).WithNode(id).WithCause(err)
		}

		dag.Nodes[id] = node
		dag.Handlers[id] = h
	}

	// Second pass: validate edges and build adjacency.
	seenDep := make(map[string]map[string]bool, len(g.Nodes))
	seenInput := make(map[string]bool, len(g.Edges))
	for _, edge := range g.Edges {
		src, ok := dag.Nodes[edge.SourceNode]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"edge %s references unknown source node %q", edgeLabel(edge), edge.SourceNode)
		}
		tgt, ok := dag.Nodes[edge.TargetNode]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"edge %s references unknown target node %q", edgeLabel(edge), edge.TargetNode)
		}
		if edge.SourceNode == edge.TargetNode {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"node %q wires to itself", edge.SourceNode).WithNode(edge.SourceNode)
		}
		if edge.SourceOutput == "" || edge.TargetInput == "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"edge %s must name both source_output and target_input", edgeLabel(edge))
		}

		if err := checkPort(dag.Handlers[src.ID].Definition(), edge.SourceOutput, false); err != nil {
			return nil, err
		}
		if err := checkPort(dag.Handlers[tgt.ID].Definition(), edge.TargetInput, true); err != nil {
			return nil, err
		}

		// One incoming edge per (target, input): a second wiring is an
		// authoring mistake, not a merge request.
		slot := edge.TargetNode + "\x00" + edge.TargetInput
		if seenInput[slot] {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"input %q of node %q is wired twice", edge.TargetInput, edge.TargetNode).WithNode(edge.TargetNode)
		}
		seenInput[slot] = true

		dag.InputEdges[edge.TargetNode] = append(dag.InputEdges[edge.TargetNode], edge)
		if seenDep[edge.TargetNode] == nil {
			seenDep[edge.TargetNode] = make(map[string]bool)
		}
		if !seenDep[edge.TargetNode][edge.SourceNode] {
			seenDep[edge.TargetNode][edge.SourceNode] = true
			dag.Deps[edge.TargetNode] = append(dag.Deps[edge.TargetNode], edge.SourceNode)
			dag.Reverse[edge.SourceNode] = append(dag.Reverse[edge.SourceNode], edge.TargetNode)
		}
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Deps[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortStrings(queue)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(dag.Reverse[node]))
		copy(dependents, dag.Reverse[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle")
	}
	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)

	return dag, nil
}

// computeLevels groups nodes into parallel execution levels. Nodes in the
// same level have all upstream nodes in previous levels.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Nodes))
	for _, id := range dag.Sorted {
		maxDep := -1
		for _, dep := range dag.Deps[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// checkPort validates an edge port name against an action definition. Ports
// are only enforced when the definition declares that side: HTTP actions
// derive outputs from their parse config, so their port sets stay open.
func checkPort(def schema.ActionDefinition, port string, input bool) error {
	if input {
		if len(def.Inputs) == 0 {
			return nil
		}
		if def.Input(port) == nil {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"action %q has no input port %q", def.ID, port)
		}
		return nil
	}
	if len(def.Outputs) == 0 {
		return nil
	}
	if def.Output(port) == nil {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"action %q has no output port %q", def.ID, port)
	}
	return nil
}

func edgeLabel(e schema.Edge) string {
	if e.ID != "" {
		return fmt.Sprintf("%q", e.ID)
	}
	return fmt.Sprintf("%s.%s -> %s.%s", e.SourceNode, e.SourceOutput, e.TargetNode, e.TargetInput)
}

// sortStrings sorts a small slice in place with insertion sort.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
