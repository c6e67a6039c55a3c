package actions

import (
	"context"
	"strings"

	"github.com/btnflow/btnflow/pkg/schema"
)

// MessageHandlers returns the built-ins that produce chat control effects.
func MessageHandlers() []Handler {
	return []Handler{
		&textShowHandler{},
		&menuNavigateHandler{},
		&notifyToastHandler{},
		&buttonOverrideHandler{},
	}
}

// parseModes are the accepted message format aliases.
var parseModes = map[string]string{
	"html":       "HTML",
	"markdown":   "Markdown",
	"markdownv2": "MarkdownV2",
	"md":         "Markdown",
	"plain":      "",
	"none":       "",
}

// --- text.show ---

type textShowHandler struct{}

func (h *textShowHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "text.show",
		Name:        "Show Text",
		Kind:        schema.KindBuiltin,
		Description: "Replace the chat message text.",
		Inputs: []schema.PortSpec{
			{Name: "text", Type: "string", Required: true, Description: "New message text."},
			{Name: "format", Type: "string", Default: "html",
				Choices: []string{"html", "markdown", "markdownv2", "plain"}},
		},
		Outputs: []schema.PortSpec{
			{Name: "text", Type: "string", Description: "The text that was shown."},
		},
	}
}

func (h *textShowHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	text := stringParam(call.Inputs, "text", "")
	format := strings.ToLower(stringParam(call.Inputs, "format", "html"))

	out := map[string]any{
		schema.ControlNewText: text,
		"text":                text,
	}
	if mode, ok := parseModes[format]; ok && mode != "" {
		out[schema.ControlParseMode] = mode
	}
	return out, nil
}

// --- menu.navigate ---

type menuNavigateHandler struct{}

func (h *menuNavigateHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "menu.navigate",
		Name:        "Navigate Menu",
		Kind:        schema.KindBuiltin,
		Description: "Switch the chat to another button menu.",
		Inputs: []schema.PortSpec{
			{Name: "menu_id", Type: "string", Required: true},
		},
		Outputs: []schema.PortSpec{
			{Name: "menu_id", Type: "string"},
		},
	}
}

func (h *menuNavigateHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	menuID := stringParam(call.Inputs, "menu_id", "")
	return map[string]any{
		schema.ControlNextMenuID: menuID,
		"menu_id":                menuID,
	}, nil
}

// --- notify.toast ---

type notifyToastHandler struct{}

func (h *notifyToastHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "notify.toast",
		Name:        "Notify",
		Kind:        schema.KindBuiltin,
		Description: "Show a transient notification to the user.",
		Inputs: []schema.PortSpec{
			{Name: "message", Type: "string", Required: true},
			{Name: "alert", Type: "boolean", Default: false,
				Description: "Show as a blocking alert instead of a toast."},
		},
		Outputs: []schema.PortSpec{
			{Name: "message", Type: "string"},
		},
	}
}

func (h *notifyToastHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	message := stringParam(call.Inputs, "message", "")
	return map[string]any{
		schema.ControlNotification: map[string]any{
			"message": message,
			"alert":   boolParam(call.Inputs, "alert", false),
		},
		"message": message,
	}, nil
}

// --- button.override ---

type buttonOverrideHandler struct{}

func (h *buttonOverrideHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "button.override",
		Name:        "Override Button",
		Kind:        schema.KindBuiltin,
		Description: "Change a button's appearance for the rendered menu.",
		Inputs: []schema.PortSpec{
			{Name: "target", Type: "string", Default: "self",
				Description: "Button ID to change, or \"self\" for the pressed button."},
			{Name: "text", Type: "string"},
			{Name: "hidden", Type: "boolean", Default: false},
			{Name: "temporary", Type: "boolean", Default: true,
				Description: "Revert on the next menu render."},
		},
		Outputs: []schema.PortSpec{
			{Name: "override", Type: "object"},
		},
	}
}

func (h *buttonOverrideHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	override := map[string]any{
		"target":    stringParam(call.Inputs, "target", "self"),
		"temporary": boolParam(call.Inputs, "temporary", true),
	}
	if text := stringParam(call.Inputs, "text", ""); text != "" {
		override["text"] = text
	}
	if boolParam(call.Inputs, "hidden", false) {
		override["hidden"] = true
	}

	out := map[string]any{
		schema.ControlButtonOverrides: []map[string]any{override},
		"override":                    override,
	}
	if text, ok := override["text"].(string); ok && override["target"] == "self" {
		out[schema.ControlButtonTitle] = text
	}
	return out, nil
}
