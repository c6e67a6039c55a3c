package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/btnflow/btnflow/internal/expressions"
	"github.com/btnflow/btnflow/internal/template"
	"github.com/btnflow/btnflow/pkg/schema"
)

// conditionSpec is the structured form of a node condition.
type conditionSpec struct {
	Type       string `mapstructure:"type"`
	Name       string `mapstructure:"name"`
	Template   string `mapstructure:"template"`
	Expression string `mapstructure:"expression"`
	Negate     bool   `mapstructure:"negate"`
}

// ConditionEvaluator decides whether a node should run. A condition may be
// absent (always run), a bool literal, a template string, or a structured
// spec dispatching to one of the expression engines.
type ConditionEvaluator struct {
	render *template.Engine
	expr   *expressions.ExprEngine
	cel    *expressions.CELEngine
	jq     *expressions.GoJQEngine
}

func NewConditionEvaluator(render *template.Engine, expr *expressions.ExprEngine, cel *expressions.CELEngine, jq *expressions.GoJQEngine) *ConditionEvaluator {
	return &ConditionEvaluator{render: render, expr: expr, cel: cel, jq: jq}
}

// ShouldRun evaluates a node's condition against its node-local scope.
// Evaluation errors are config errors: they fail the node rather than
// silently skipping it.
func (c *ConditionEvaluator) ShouldRun(ctx context.Context, raw any, scope *template.Scope) (bool, error) {
	if raw == nil {
		return true, nil
	}

	switch cond := raw.(type) {
	case bool:
		return cond, nil
	case string:
		rendered, err := c.render.RenderStrict(cond, scope)
		if err != nil {
			return false, err
		}
		return CoerceBool(rendered), nil
	case map[string]any:
		return c.evalStructured(ctx, cond, scope)
	default:
		return false, schema.NewErrorf(schema.ErrCodeConfig,
			"unsupported condition type %T", raw)
	}
}

func (c *ConditionEvaluator) evalStructured(ctx context.Context, raw map[string]any, scope *template.Scope) (bool, error) {
	var spec conditionSpec
	if err := mapstructure.Decode(raw, &spec); err != nil {
		return false, schema.NewError(schema.ErrCodeConfig, "invalid condition object").WithCause(err)
	}

	var value any
	switch spec.Type {
	case "input":
		if spec.Name == "" {
			return false, schema.NewError(schema.ErrCodeConfig, "input condition requires \"name\"")
		}
		value = scope.Inputs[spec.Name]
	case "template":
		if spec.Template == "" {
			return false, schema.NewError(schema.ErrCodeConfig, "template condition requires \"template\"")
		}
		rendered, err := c.render.RenderStrict(spec.Template, scope)
		if err != nil {
			return false, err
		}
		value = rendered
	case "expr":
		if spec.Expression == "" {
			return false, schema.NewError(schema.ErrCodeConfig, "expr condition requires \"expression\"")
		}
		result, err := c.expr.Evaluate(ctx, spec.Expression, scope.AsData())
		if err != nil {
			return false, err
		}
		value = result
	case "cel":
		if spec.Expression == "" {
			return false, schema.NewError(schema.ErrCodeConfig, "cel condition requires \"expression\"")
		}
		result, err := c.cel.Evaluate(ctx, spec.Expression, scope.AsData())
		if err != nil {
			return false, err
		}
		value = result
	case "jq":
		if spec.Expression == "" {
			return false, schema.NewError(schema.ErrCodeConfig, "jq condition requires \"expression\"")
		}
		result, err := c.jq.Evaluate(ctx, spec.Expression, scope.AsData())
		if err != nil {
			return false, err
		}
		value = result
	default:
		return false, schema.NewErrorf(schema.ErrCodeConfig,
			"unknown condition type %q", spec.Type)
	}

	run := CoerceBool(value)
	if spec.Negate {
		run = !run
	}
	return run, nil
}

// CoerceBool applies the truthiness rules used by conditions. Falsy values:
// nil, false, numeric zero, "", and the literal strings "0", "false",
// "null", "none", "undefined", "no", "off", compared case-insensitively.
// Everything else is truthy, including empty collections.
func CoerceBool(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(val) {
		case "", "0", "false", "null", "none", "undefined", "no", "off":
			return false
		}
		return true
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case float32:
		return val != 0
	case uint64:
		return val != 0
	default:
		// json.Number and other fmt-able numerics fall through here.
		s := fmt.Sprintf("%v", val)
		return s != "0" && s != ""
	}
}
