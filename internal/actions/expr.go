package actions

import (
	"context"

	"github.com/btnflow/btnflow/internal/expressions"
	"github.com/btnflow/btnflow/pkg/schema"
)

// ExprHandlers returns the expression evaluation built-ins.
func ExprHandlers() []Handler {
	return []Handler{
		&exprEvalHandler{engine: expressions.NewExprEngine()},
	}
}

// --- expr.eval ---

type exprEvalHandler struct {
	engine *expressions.ExprEngine
}

func (h *exprEvalHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "expr.eval",
		Name:        "Evaluate Expression",
		Kind:        schema.KindBuiltin,
		Description: "Evaluate an Expr expression against the run scope.",
		Inputs: []schema.PortSpec{
			{Name: "expression", Type: "string", Required: true},
			{Name: "data", Type: "object",
				Description: "Extra data exposed to the expression as \"data\"."},
		},
		Outputs: []schema.PortSpec{
			{Name: "result"},
		},
	}
}

func (h *exprEvalHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	expression := stringParam(call.Inputs, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"expr.eval requires a non-empty 'expression' input")
	}

	var env map[string]any
	if call.Scope != nil {
		env = call.Scope.AsData()
	} else {
		env = map[string]any{}
	}
	if data, ok := call.Inputs["data"]; ok {
		env["data"] = data
	}

	result, err := h.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}
