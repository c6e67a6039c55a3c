package template

// Scope is the layered variable environment available to templating and
// condition evaluation during a run. It is built once per run and mutated
// only by appending node outputs; never shared across concurrent runs.
type Scope struct {
	Runtime map[string]any // interaction metadata (chat_id, user_id, ...)
	Button  map[string]any // triggering button
	Menu    map[string]any // triggering menu
	// Variables is the per-run arena keyed by node ID: a node's declared
	// outputs land under Variables[nodeID] so downstream templates can
	// reference them even without an explicit edge.
	Variables map[string]any
	// Inputs holds the current node's resolved input values. Per node.
	Inputs map[string]any
	// Response and Extracted expose an HTTP action's call result within
	// the same node. Per node, remote calls only.
	Response  map[string]any
	Extracted any
}

// NewScope creates a Scope seeded with the trigger data. Nil maps are
// replaced with empty ones so lookups never need nil checks.
func NewScope(runtime, button, menu, variables map[string]any) *Scope {
	return &Scope{
		Runtime:   orEmpty(runtime),
		Button:    orEmpty(button),
		Menu:      orEmpty(menu),
		Variables: orEmpty(variables),
		Inputs:    map[string]any{},
	}
}

// Root resolves one of the reserved template roots. The second return is
// false for unknown names.
func (s *Scope) Root(name string) (any, bool) {
	switch name {
	case "runtime":
		return s.Runtime, true
	case "button":
		return s.Button, true
	case "menu":
		return s.Menu, true
	case "variables":
		return s.Variables, true
	case "inputs":
		return s.Inputs, true
	case "response":
		return s.Response, true
	case "extracted":
		return s.Extracted, true
	default:
		return nil, false
	}
}

// RootNames lists the reserved roots, for diagnostics.
func RootNames() []string {
	return []string{"runtime", "button", "menu", "variables", "inputs", "response", "extracted"}
}

// ForNode returns a node-local view: shared run layers, node-own inputs.
// Variables is snapshotted with a top-level copy so the view stays stable
// while peer nodes append their outputs to the run scope; the per-node
// output maps inside it are written once and never mutated after, so a
// shallow copy is enough. Callers that mutate the run scope concurrently
// must call ForNode under the same lock that guards AddNodeOutputs.
func (s *Scope) ForNode(inputs map[string]any) *Scope {
	vars := make(map[string]any, len(s.Variables))
	for k, v := range s.Variables {
		vars[k] = v
	}
	return &Scope{
		Runtime:   s.Runtime,
		Button:    s.Button,
		Menu:      s.Menu,
		Variables: vars,
		Inputs:    orEmpty(inputs),
	}
}

// AddNodeOutputs registers a completed node's declared outputs in the run
// arena under the node's own namespace.
func (s *Scope) AddNodeOutputs(nodeID string, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	s.Variables[nodeID] = outputs
}

// AsData flattens the scope into a plain map for expression engines.
func (s *Scope) AsData() map[string]any {
	data := map[string]any{
		"runtime":   s.Runtime,
		"button":    s.Button,
		"menu":      s.Menu,
		"variables": s.Variables,
		"inputs":    s.Inputs,
	}
	if s.Response != nil {
		data["response"] = s.Response
	} else {
		data["response"] = map[string]any{}
	}
	data["extracted"] = s.Extracted
	return data
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
