package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btnflow/btnflow/pkg/schema"
)

// Engine renders {{ ... }} references in strings against a Scope.
// Rendering is side-effect free and safe to call concurrently on
// disjoint scopes.
//
// In lenient mode a missing path renders as the empty string; in strict
// mode (condition evaluation) it is a RENDER_ERROR.
type Engine struct{}

// New creates a template Engine.
func New() *Engine {
	return &Engine{}
}

// HasTemplate reports whether a string contains any {{ ... }} reference.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// Render renders a template leniently: unresolvable paths become "".
func (e *Engine) Render(tpl string, scope *Scope) (string, error) {
	out, err := e.render(tpl, scope, false)
	if err != nil {
		return "", err
	}
	return stringify(out), nil
}

// RenderStrict renders a template with undefined paths treated as errors.
func (e *Engine) RenderStrict(tpl string, scope *Scope) (string, error) {
	out, err := e.render(tpl, scope, true)
	if err != nil {
		return "", err
	}
	return stringify(out), nil
}

// RenderValue renders leniently but preserves the native value when the
// whole template is a single {{ ... }} placeholder, so wired structures
// (maps, lists, numbers) survive config rendering intact.
func (e *Engine) RenderValue(tpl string, scope *Scope) (any, error) {
	return e.render(tpl, scope, false)
}

// RenderStructure recursively renders every string inside maps and slices.
// Non-string leaves pass through unchanged.
func (e *Engine) RenderStructure(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return e.RenderValue(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rendered, err := e.RenderStructure(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := e.RenderStructure(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// render scans for {{ ... }} tokens. It returns the resolved native value
// when the template is exactly one placeholder, otherwise a string.
func (e *Engine) render(input string, scope *Scope, strict bool) (any, error) {
	if !HasTemplate(input) {
		return input, nil
	}

	var result strings.Builder
	result.Grow(len(input))

	// Whole-placeholder detection: "{{ path }}" with nothing around it.
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		expr := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if expr != "" && !strings.Contains(expr, "}}") {
			return e.resolveExpr(expr, scope, strict)
		}
	}

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeRender, "unclosed {{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeRender, "empty variable reference: {{ }}")
		}
		if strings.Contains(expr, "{{") {
			return nil, schema.NewError(schema.ErrCodeRender,
				"nested interpolation not allowed: {{...}} cannot contain {{")
		}

		val, err := e.resolveExpr(expr, scope, strict)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(val))

		i = end + 2
	}

	return result.String(), nil
}

// resolveExpr resolves a single path like "inputs.city" or
// "response.json.items[0].name" against the scope.
func (e *Engine) resolveExpr(expr string, scope *Scope, strict bool) (any, error) {
	segments, err := splitPath(expr)
	if err != nil {
		return nil, err
	}

	root, ok := scope.Root(segments[0])
	if !ok {
		if strict {
			return nil, schema.NewErrorf(schema.ErrCodeRender,
				"unknown root %q in {{%s}}; available: %s",
				segments[0], expr, strings.Join(RootNames(), ", ")).
				WithDetails(map[string]any{"expression": expr})
		}
		return nil, nil
	}

	current := root
	for _, seg := range segments[1:] {
		next, found := traverse(current, seg)
		if !found {
			if strict {
				return nil, schema.NewErrorf(schema.ErrCodeRender,
					"path %q not found in {{%s}}", seg, expr).
					WithDetails(map[string]any{"expression": expr, "segment": seg})
			}
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// traverse steps one segment into a map, slice, or JSON blob.
func traverse(current any, seg string) (any, bool) {
	switch v := current.(type) {
	case map[string]any:
		val, ok := v[seg]
		return val, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case json.RawMessage:
		var parsed any
		if err := json.Unmarshal(v, &parsed); err != nil {
			return nil, false
		}
		return traverse(parsed, seg)
	default:
		return nil, false
	}
}

// splitPath breaks "a.b[0].c" into ["a", "b", "0", "c"]. Bracket segments
// accept bare indexes and single- or double-quoted keys.
func splitPath(expr string) ([]string, error) {
	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	i := 0
	for i < len(expr) {
		c := expr[i]
		switch c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			close := strings.IndexByte(expr[i:], ']')
			if close == -1 {
				return nil, schema.NewErrorf(schema.ErrCodeRender, "unclosed bracket in path %q", expr)
			}
			inner := strings.TrimSpace(expr[i+1 : i+close])
			inner = strings.Trim(inner, `"'`)
			if inner == "" {
				return nil, schema.NewErrorf(schema.ErrCodeRender, "empty bracket segment in path %q", expr)
			}
			segments = append(segments, inner)
			i += close + 1
		default:
			current.WriteByte(c)
			i++
		}
	}
	flush()

	if len(segments) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeRender, "empty path expression")
	}
	for _, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeRender, "empty segment in path %q", expr)
		}
	}
	return segments, nil
}

// stringify converts a resolved value into its inline string form.
// nil renders empty; maps and slices render as compact JSON.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
