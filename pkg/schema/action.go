package schema

// ActionKind enumerates the executable kinds an action definition may have.
type ActionKind string

const (
	// KindHTTP actions build and perform a templated HTTP request.
	KindHTTP ActionKind = "http"
	// KindBuiltin actions are native functions registered at process start.
	KindBuiltin ActionKind = "builtin"
	// KindPlugin actions are user-supplied handlers discovered through a
	// plugin provider and invoked like built-ins once loaded.
	KindPlugin ActionKind = "plugin"
)

// ActionDefinition describes a named, reusable unit of behavior with
// declared input/output ports. The ports are the only names edges may
// reference.
type ActionDefinition struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Kind        ActionKind `json:"kind"`
	Description string     `json:"description,omitempty"`
	Inputs      []PortSpec `json:"inputs,omitempty"`
	Outputs     []PortSpec `json:"outputs,omitempty"`
	// Config holds kind-specific configuration. For http actions it carries
	// the request/parse/render blocks; empty for built-ins and plugins.
	Config map[string]any `json:"config,omitempty"`
}

// PortSpec declares one named input or output slot on an action.
// A port has a default iff Default is non-nil.
type PortSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"` // string | number | boolean | object | array
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Choices     []string `json:"choices,omitempty"`
}

// Input returns the input port with the given name, or nil.
func (d *ActionDefinition) Input(name string) *PortSpec {
	for i := range d.Inputs {
		if d.Inputs[i].Name == name {
			return &d.Inputs[i]
		}
	}
	return nil
}

// Output returns the output port with the given name, or nil.
func (d *ActionDefinition) Output(name string) *PortSpec {
	for i := range d.Outputs {
		if d.Outputs[i].Name == name {
			return &d.Outputs[i]
		}
	}
	return nil
}
