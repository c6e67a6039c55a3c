package actions

import (
	"context"
	"time"

	"github.com/btnflow/btnflow/pkg/schema"
)

// maxDelay caps flow.delay so a workflow cannot stall a chat indefinitely.
const maxDelay = 10 * time.Second

// FlowHandlers returns the control-flow built-ins.
func FlowHandlers() []Handler {
	return []Handler{
		&flowDelayHandler{},
		&varProvideHandler{},
	}
}

// --- flow.delay ---

type flowDelayHandler struct{}

func (h *flowDelayHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "flow.delay",
		Name:        "Delay",
		Kind:        schema.KindBuiltin,
		Description: "Pause the branch for a bounded number of milliseconds.",
		Inputs: []schema.PortSpec{
			{Name: "duration_ms", Type: "number", Default: 0},
		},
		Outputs: []schema.PortSpec{
			{Name: "waited_ms", Type: "number"},
		},
	}
}

func (h *flowDelayHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	d := time.Duration(intParam(call.Inputs, "duration_ms", 0)) * time.Millisecond
	if d < 0 {
		d = 0
	}
	if d > maxDelay {
		d = maxDelay
	}

	if d > 0 && !call.Preview {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, schema.NewError(schema.ErrCodeCancelled, "flow.delay interrupted").
				WithCause(ctx.Err())
		}
	}
	return map[string]any{"waited_ms": d.Milliseconds()}, nil
}

// --- var.provide ---

type varProvideHandler struct{}

func (h *varProvideHandler) Definition() schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          "var.provide",
		Name:        "Provide Value",
		Kind:        schema.KindBuiltin,
		Description: "Expose a constant or rendered value as a node output.",
		Inputs: []schema.PortSpec{
			{Name: "value", Required: true},
		},
		Outputs: []schema.PortSpec{
			{Name: "value"},
		},
	}
}

func (h *varProvideHandler) Invoke(ctx context.Context, call Call) (map[string]any, error) {
	return map[string]any{"value": call.Inputs["value"]}, nil
}
