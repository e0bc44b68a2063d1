package mock

import (
	"context"
	"encoding/json"

	"github.com/mbaranowski/loom"
)

// Interface compliance checks.
var (
	_ loom.Tool         = (*Tool)(nil)
	_ loom.ToolExecutor = (*ToolExecutor)(nil)
)

// Tool is a test double for loom.Tool.
// Name, Desc, and InputSchema back the descriptor methods; set ExecuteFn
// before calling Execute.
type Tool struct {
	Name        string
	Desc        string
	InputSchema json.RawMessage
	ExecuteFn   func(ctx context.Context, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error)
}

// ID returns Name.
func (t *Tool) ID() string { return t.Name }

// Description returns Desc.
func (t *Tool) Description() string { return t.Desc }

// Schema returns InputSchema, defaulting to an open object schema.
func (t *Tool) Schema() json.RawMessage {
	if t.InputSchema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.InputSchema
}

// Execute delegates to ExecuteFn.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error) {
	return t.ExecuteFn(ctx, args, tc)
}

// ToolExecutor is a test double for loom.ToolExecutor.
// Set ExecuteFn before calling Execute; Defs backs Tools.
type ToolExecutor struct {
	ExecuteFn func(ctx context.Context, name string, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error)
	Defs      []loom.ToolDef
}

// Execute delegates to ExecuteFn.
func (e *ToolExecutor) Execute(ctx context.Context, name string, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error) {
	return e.ExecuteFn(ctx, name, args, tc)
}

// Tools returns Defs.
func (e *ToolExecutor) Tools() []loom.ToolDef {
	return e.Defs
}
