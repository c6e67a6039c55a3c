package validation

import "github.com/btnflow/btnflow/pkg/schema"

// WorkflowValidator runs the three validation stages over a graph:
// structural (JSON Schema), semantic (references, wiring, conditions),
// graph (cycles). Structural failures short-circuit the later stages.
type WorkflowValidator struct {
	schemas *SchemaValidator
	actions ActionLookup
}

// NewWorkflowValidator creates a validator. lookup may be nil to validate
// graphs without a live registry.
func NewWorkflowValidator(lookup ActionLookup) (*WorkflowValidator, error) {
	sv, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{schemas: sv, actions: lookup}, nil
}

// Validate returns every issue found in the graph.
func (v *WorkflowValidator) Validate(g *schema.WorkflowGraph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow graph is nil")
		return r
	}

	result := v.schemas.ValidateWorkflowDoc(g)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(g, v.actions))
	if !result.Valid() {
		return result
	}

	result.Merge(validateGraph(g))
	return result
}

// ValidateAction checks a stored action definition.
func (v *WorkflowValidator) ValidateAction(def *schema.ActionDefinition) *schema.ValidationResult {
	return v.schemas.ValidateActionDoc(def)
}
