package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btnflow/btnflow/internal/template"
	"github.com/btnflow/btnflow/pkg/schema"
)

// Handler executes one action kind against resolved node inputs. A handler
// returns a flat output map; the executor partitions it into declared
// outputs and chat control effects.
type Handler interface {
	Definition() schema.ActionDefinition
	Invoke(ctx context.Context, call Call) (map[string]any, error)
}

// Call is the data handed to a handler at node execution time.
type Call struct {
	// Inputs are the node's resolved input values, templates already
	// rendered and defaults applied.
	Inputs map[string]any

	// Scope is the node-local data view, for handlers that render
	// additional templates themselves (HTTP config blocks).
	Scope *template.Scope

	// Preview disables outward side effects. HTTP handlers skip the
	// network call and return placeholder outputs.
	Preview bool
}

// SafeInvoke runs a handler with panic recovery, so a misbehaving handler
// fails its node instead of the whole run.
func SafeInvoke(ctx context.Context, h Handler, call Call) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeHandler,
				"action %q panicked: %v", h.Definition().ID, r)
		}
	}()
	return h.Invoke(ctx, call)
}

// Param helpers used by all handler files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mm, _ := v.(map[string]any)
	return mm
}

func sliceParam(m map[string]any, key string) []any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}
