package validation

import (
	"fmt"

	"github.com/btnflow/btnflow/pkg/schema"
)

// ActionLookup answers whether an action ID is currently resolvable. The
// action registry satisfies it; nil skips existence checks so graphs can be
// validated offline.
type ActionLookup interface {
	Has(id string) bool
}

// validateSemantic checks everything the JSON Schema cannot express about
// a graph: action existence, edge node references, duplicate input wiring,
// self edges, and condition shape.
func validateSemantic(g *schema.WorkflowGraph, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for id, node := range g.Nodes {
		path := "nodes." + id
		if node == nil {
			result.AddError(path, schema.ErrCodeValidation, "node is null")
			continue
		}
		if node.ID != "" && node.ID != id {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("declares mismatched id %q", node.ID))
		}
		if lookup != nil && node.ActionRef != "" && !lookup.Has(node.ActionRef) {
			result.AddError(path+".action_id", schema.ErrCodeValidation,
				fmt.Sprintf("action %q not registered", node.ActionRef))
		}
		validateCondition(node.Condition(), path, result)
	}

	wiredInputs := make(map[string]bool, len(g.Edges))
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := g.Nodes[e.SourceNode]; !ok {
			result.AddError(path+".source_node", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.SourceNode))
		}
		if _, ok := g.Nodes[e.TargetNode]; !ok {
			result.AddError(path+".target_node", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.TargetNode))
		}
		if e.SourceNode != "" && e.SourceNode == e.TargetNode {
			result.AddError(path, schema.ErrCodeCycleDetected,
				fmt.Sprintf("node %q wires to itself", e.SourceNode))
		}

		slot := e.TargetNode + "\x00" + e.TargetInput
		if wiredInputs[slot] {
			result.AddError(path+".target_input", schema.ErrCodeValidation,
				fmt.Sprintf("input %q of node %q is wired twice", e.TargetInput, e.TargetNode))
		}
		wiredInputs[slot] = true
	}

	return result
}

// validateCondition checks a node condition's shape without evaluating it.
func validateCondition(cond any, path string, result *schema.ValidationResult) {
	condPath := path + ".data." + schema.ConditionKey
	switch c := cond.(type) {
	case nil, bool, string:
	case map[string]any:
		typ, _ := c["type"].(string)
		switch typ {
		case "input":
			if s, _ := c["name"].(string); s == "" {
				result.AddError(condPath, schema.ErrCodeValidation, `input condition requires "name"`)
			}
		case "template":
			if s, _ := c["template"].(string); s == "" {
				result.AddError(condPath, schema.ErrCodeValidation, `template condition requires "template"`)
			}
		case "expr", "cel", "jq":
			if s, _ := c["expression"].(string); s == "" {
				result.AddError(condPath, schema.ErrCodeValidation,
					fmt.Sprintf("%s condition requires %q", typ, "expression"))
			}
		default:
			result.AddError(condPath, schema.ErrCodeValidation,
				fmt.Sprintf("unknown condition type %q", typ))
		}
	default:
		result.AddError(condPath, schema.ErrCodeValidation,
			fmt.Sprintf("unsupported condition type %T", cond))
	}
}
