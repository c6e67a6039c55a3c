package expressions

import "context"

// Engine evaluates expressions against a workflow run's data view.
// Three implementations: CEL and Expr for structured conditions, GoJQ
// for response extraction.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// scopeRoots are the top-level variables every engine exposes. They
// mirror template.Scope.AsData().
var scopeRoots = []string{"runtime", "button", "menu", "variables", "inputs", "response", "extracted"}
