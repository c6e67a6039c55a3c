package schema

// LayoutConfig is a button's position and span in the menu grid.
type LayoutConfig struct {
	Row     int `json:"row"`
	Col     int `json:"col"`
	Rowspan int `json:"rowspan,omitempty"`
	Colspan int `json:"colspan,omitempty"`
}

// ButtonDefinition is one chat button: its label, behavior type, and
// free-form payload (action_id, menu_id, url, ...).
type ButtonDefinition struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Type        string         `json:"type"` // action | submenu | url | workflow
	Payload     map[string]any `json:"payload,omitempty"`
	Description string         `json:"description,omitempty"`
	Layout      LayoutConfig   `json:"layout"`
}

// MenuDefinition groups buttons into one chat keyboard page.
type MenuDefinition struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Header  string   `json:"header,omitempty"`
	Buttons []string `json:"buttons,omitempty"` // button IDs, display order
}

// AsScope converts a button definition into the map exposed to templates
// under the "button" root.
func (b *ButtonDefinition) AsScope() map[string]any {
	return map[string]any{
		"id":          b.ID,
		"text":        b.Text,
		"type":        b.Type,
		"payload":     b.Payload,
		"description": b.Description,
	}
}

// AsScope converts a menu definition into the map exposed to templates
// under the "menu" root.
func (m *MenuDefinition) AsScope() map[string]any {
	return map[string]any{
		"id":     m.ID,
		"title":  m.Title,
		"header": m.Header,
	}
}
