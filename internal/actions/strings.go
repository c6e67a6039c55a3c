package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/btnflow/btnflow/pkg/schema"
)

// StringHandlers returns the built-in string manipulation actions.
func StringHandlers() []Handler {
	return []Handler{
		&stringFormatHandler{},
		&stringCaseHandler{},
	}
}

// --- string.format ---

type stringFormatHandler struct{}

func (h *stringFormatHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "string.format",
		Name:        "Format String",
		Kind:        schema.KindBuiltin,
		Description: "Substitute named {placeholders} in a pattern.",
		Inputs: []schema.PortSpec{
			{Name: "pattern", Type: "string", Required: true,
				Description: "Pattern with {name} placeholders."},
			{Name: "values", Type: "object", Default: map[string]any{}},
		},
		Outputs: []schema.PortSpec{
			{Name: "formatted", Type: "string"},
		},
	}
}

func (h *stringFormatHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	pattern := stringParam(call.Inputs, "pattern", "")
	values := mapParam(call.Inputs, "values")

	result := pattern
	for name, val := range values {
		var s string
		if val != nil {
			s = fmt.Sprintf("%v", val)
		}
		result = strings.ReplaceAll(result, "{"+name+"}", s)
	}
	return map[string]any{"formatted": result}, nil
}

// --- string.case ---

type stringCaseHandler struct{}

func (h *stringCaseHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "string.case",
		Name:        "Change Case",
		Kind:        schema.KindBuiltin,
		Description: "Convert a string to upper, lower, or title case.",
		Inputs: []schema.PortSpec{
			{Name: "value", Type: "string", Required: true},
			{Name: "mode", Type: "string", Default: "lower",
				Choices: []string{"upper", "lower", "title"}},
		},
		Outputs: []schema.PortSpec{
			{Name: "result", Type: "string"},
		},
	}
}

func (h *stringCaseHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	value := stringParam(call.Inputs, "value", "")

	var result string
	switch strings.ToLower(stringParam(call.Inputs, "mode", "lower")) {
	case "upper":
		result = strings.ToUpper(value)
	case "title":
		result = titleCase(value)
	default:
		result = strings.ToLower(value)
	}
	return map[string]any{"result": result}, nil
}

// titleCase upper-cases the first letter of each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
