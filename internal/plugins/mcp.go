package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/btnflow/btnflow/internal/actions"
	"github.com/btnflow/btnflow/pkg/schema"
)

// MCPConfig describes one MCP server to launch over stdio.
type MCPConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// MCPProvider exposes an MCP server's tools as workflow actions. Each tool
// becomes an action with ID "<provider>.<tool>" so user graphs can reference
// them like any built-in.
type MCPProvider struct {
	cfg    MCPConfig
	client *client.Client
}

// NewMCPProvider creates a provider for the given server config.
func NewMCPProvider(cfg MCPConfig) *MCPProvider {
	return &MCPProvider{cfg: cfg}
}

// Name returns the provider's namespace prefix.
func (p *MCPProvider) Name() string { return p.cfg.Name }

// Open launches the server subprocess and performs the MCP handshake.
func (p *MCPProvider) Open(ctx context.Context) error {
	c, err := client.NewStdioMCPClient(p.cfg.Command, p.cfg.Env, p.cfg.Args...)
	if err != nil {
		return fmt.Errorf("start mcp server %q: %w", p.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "btnflow",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize mcp server %q: %w", p.cfg.Name, err)
	}

	p.client = c
	return nil
}

// Handlers lists the server's tools and wraps each as a Handler.
func (p *MCPProvider) Handlers(ctx context.Context) ([]actions.Handler, error) {
	if p.client == nil {
		return nil, fmt.Errorf("mcp provider %q not opened", p.cfg.Name)
	}

	result, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", p.cfg.Name, err)
	}

	handlers := make([]actions.Handler, 0, len(result.Tools))
	for _, tool := range result.Tools {
		handlers = append(handlers, &mcpToolHandler{
			provider: p,
			tool:     tool,
		})
	}
	return handlers, nil
}

// Close terminates the server subprocess.
func (p *MCPProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// mcpToolHandler adapts one MCP tool to the Handler contract.
type mcpToolHandler struct {
	provider *MCPProvider
	tool     mcp.Tool
}

func (h *mcpToolHandler) Definition() schema.ActionDefinition {
	def := schema.ActionDefinition{
		ID:          h.provider.cfg.Name + "." + h.tool.Name,
		Name:        h.tool.Name,
		Kind:        schema.KindPlugin,
		Description: h.tool.Description,
		Outputs: []schema.PortSpec{
			{Name: "content", Type: "string", Description: "Concatenated text content."},
			{Name: "result", Type: "object", Description: "Structured tool result, when JSON."},
		},
	}

	// Surface the tool's declared input properties as ports so graph
	// validation can check wiring against them.
	required := make(map[string]bool, len(h.tool.InputSchema.Required))
	for _, r := range h.tool.InputSchema.Required {
		required[r] = true
	}
	for name, prop := range h.tool.InputSchema.Properties {
		port := schema.PortSpec{Name: name, Required: required[name]}
		if pm, ok := prop.(map[string]any); ok {
			if t, ok := pm["type"].(string); ok {
				port.Type = t
			}
			if d, ok := pm["description"].(string); ok {
				port.Description = d
			}
		}
		def.Inputs = append(def.Inputs, port)
	}
	return def
}

func (h *mcpToolHandler) Invoke(ctx context.Context, call actions.Call) (map[string]any, error) {
	if call.Preview {
		return map[string]any{"content": "", "result": nil}, nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = h.tool.Name
	req.Params.Arguments = call.Inputs

	result, err := h.provider.client.CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler,
			"mcp tool %q failed: %s", h.tool.Name, err.Error()).WithCause(err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeHandler,
			"mcp tool %q returned an error: %s", h.tool.Name, text)
	}

	out := map[string]any{"content": text}
	var structured any
	if err := json.Unmarshal([]byte(text), &structured); err == nil {
		out["result"] = structured
	} else {
		out["result"] = nil
	}
	return out, nil
}
