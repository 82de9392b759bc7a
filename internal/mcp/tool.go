package mcp

import (
	"context"
	"encoding/json"

	"github.com/costlens/costlens/internal/llm"
)

// serverTool exposes one MCP server tool through the engine's Tool
// interface. The spec name already carries the server prefix, so calls
// route back to the owning server through the manager.
type serverTool struct {
	manager *Manager
	spec    ToolSpec
}

func (t *serverTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.spec.Name,
		Description: t.spec.Description,
		Schema:      t.spec.Schema,
	}
}

func (t *serverTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.manager.CallTool(ctx, t.spec.Name, args)
}

// RegisterMCPTools publishes every tool of every running server into the
// registry. Safe to call again after more servers come up; registration
// by name overwrites, so already-known tools are refreshed in place.
func RegisterMCPTools(manager *Manager, registry *llm.ToolRegistry) {
	for _, spec := range manager.AllTools() {
		registry.Register(&serverTool{manager: manager, spec: spec})
	}
}
