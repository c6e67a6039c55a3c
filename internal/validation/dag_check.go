package validation

import (
	"sort"
	"strings"

	"github.com/btnflow/btnflow/pkg/schema"
)

// validateGraph runs cycle detection over the edge list with Kahn's
// algorithm. Invalid node references are skipped; the semantic stage has
// already reported them.
func validateGraph(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	deps := make(map[string][]string, len(g.Nodes))
	reverse := make(map[string][]string, len(g.Nodes))
	seen := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.SourceNode]; !ok {
			continue
		}
		if _, ok := g.Nodes[e.TargetNode]; !ok {
			continue
		}
		if e.SourceNode == e.TargetNode {
			continue
		}
		pair := e.SourceNode + "\x00" + e.TargetNode
		if seen[pair] {
			continue
		}
		seen[pair] = true
		deps[e.TargetNode] = append(deps[e.TargetNode], e.SourceNode)
		reverse[e.SourceNode] = append(reverse[e.SourceNode], e.TargetNode)
	}

	inDegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = len(deps[id])
	}

	queue := make([]string, 0, len(g.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range reverse[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(g.Nodes) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddError("edges", schema.ErrCodeCycleDetected,
			"cycle involving nodes: "+strings.Join(cyclic, ", "))
	}

	return result
}
