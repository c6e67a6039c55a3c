package engine

import "github.com/btnflow/btnflow/pkg/schema"

// AggregateEffects merges per-node control effects into the single run
// aggregate. Nodes arrive in topological order; scalar effects are
// last-writer-wins over that order, button overrides concatenate so every
// node's edits apply.
func AggregateEffects(nodes []*schema.NodeResult) schema.Aggregate {
	var agg schema.Aggregate
	for _, node := range nodes {
		if node.Status != schema.NodeStatusSuccess || node.Control.Empty() {
			continue
		}
		c := node.Control
		if c.NewText != nil {
			agg.NewText = c.NewText
		}
		if c.ParseMode != "" {
			agg.ParseMode = c.ParseMode
		}
		if c.NextMenuID != "" {
			agg.NextMenuID = c.NextMenuID
		}
		if c.Notification != nil {
			agg.Notification = c.Notification
		}
		if len(c.ButtonOverrides) > 0 {
			agg.ButtonOverrides = append(agg.ButtonOverrides, c.ButtonOverrides...)
		}
		if c.ButtonTitle != "" {
			agg.ButtonTitle = c.ButtonTitle
		}
	}
	return agg
}
