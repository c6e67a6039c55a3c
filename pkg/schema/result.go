package schema

import "time"

// Reserved control keys. A handler outcome entry under one of these names
// steers the final user-visible effect instead of flowing to another node.
const (
	ControlNewText         = "new_text"
	ControlParseMode       = "parse_mode"
	ControlNextMenuID      = "next_menu_id"
	ControlNotification    = "notification"
	ControlButtonOverrides = "button_overrides"
	ControlButtonTitle     = "button_title"
)

// ControlKeys is the canonical set of reserved control keys.
var ControlKeys = map[string]bool{
	ControlNewText:         true,
	ControlParseMode:       true,
	ControlNextMenuID:      true,
	ControlNotification:    true,
	ControlButtonOverrides: true,
	ControlButtonTitle:     true,
}

// NodeStatus classifies how a node ended within a run. Every node in a
// terminated run is exactly one of these.
type NodeStatus string

const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusSkipped NodeStatus = "skipped"
)

// ControlEffects are the user-visible effects a single node produced,
// split out from its declared outputs.
type ControlEffects struct {
	NewText         *string          `json:"new_text,omitempty"`
	ParseMode       string           `json:"parse_mode,omitempty"`
	NextMenuID      string           `json:"next_menu_id,omitempty"`
	Notification    map[string]any   `json:"notification,omitempty"`
	ButtonOverrides []map[string]any `json:"button_overrides,omitempty"`
	ButtonTitle     string           `json:"button_title,omitempty"`
}

// Empty reports whether no control effect is set.
func (c *ControlEffects) Empty() bool {
	return c == nil || (c.NewText == nil && c.ParseMode == "" && c.NextMenuID == "" &&
		c.Notification == nil && len(c.ButtonOverrides) == 0 && c.ButtonTitle == "")
}

// NodeResult is the recorded outcome of a single node.
type NodeResult struct {
	NodeID     string          `json:"node_id"`
	ActionRef  string          `json:"action_id,omitempty"`
	Status     NodeStatus      `json:"status"`
	Error      *FlowError      `json:"error,omitempty"`
	Outputs    map[string]any  `json:"outputs,omitempty"`
	Control    *ControlEffects `json:"control,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// Aggregate is the merged, run-level effect handed to the chat transport.
// NewText is nil when no node ever set it; the transport must then leave
// the existing message unedited.
type Aggregate struct {
	NewText         *string          `json:"new_text,omitempty"`
	ParseMode       string           `json:"parse_mode,omitempty"`
	NextMenuID      string           `json:"next_menu_id,omitempty"`
	Notification    map[string]any   `json:"notification,omitempty"`
	ButtonOverrides []map[string]any `json:"button_overrides,omitempty"`
	ButtonTitle     string           `json:"button_title,omitempty"`
}

// RunResult is the full outcome of one workflow run: the aggregate effect
// plus raw per-node outcomes for inspection (dry-run/test endpoint).
type RunResult struct {
	RunID       string         `json:"run_id"`
	WorkflowID  string         `json:"workflow_id"`
	Success     bool           `json:"success"`
	Error       *FlowError     `json:"error,omitempty"`
	Aggregate   Aggregate      `json:"aggregate"`
	Nodes       []*NodeResult  `json:"nodes,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Node returns the recorded result for a node ID, or nil.
func (r *RunResult) Node(nodeID string) *NodeResult {
	for _, n := range r.Nodes {
		if n.NodeID == nodeID {
			return n
		}
	}
	return nil
}

// FirstFailure returns the first failed node result in completion order,
// or nil when every executed node succeeded.
func (r *RunResult) FirstFailure() *NodeResult {
	for _, n := range r.Nodes {
		if n.Status == NodeStatusFailed {
			return n
		}
	}
	return nil
}

// Trigger is the seed input for one run: the workflow to execute plus the
// interaction metadata and triggering entities forming the initial scope.
type Trigger struct {
	WorkflowID string         `json:"workflow_id"`
	Runtime    map[string]any `json:"runtime,omitempty"`
	Button     map[string]any `json:"button,omitempty"`
	Menu       map[string]any `json:"menu,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	Preview    bool           `json:"preview,omitempty"`
}
