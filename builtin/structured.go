package builtin

import (
	"context"
	"encoding/json"

	"github.com/mbaranowski/loom"
)

// StructuredToolName is the reserved name of the capture tool injected when
// a turn requests schema-constrained output.
const StructuredToolName = "structured_output"

const structuredOutput = "Structured output captured successfully."

// Compile-time interface check.
var _ loom.Tool = (*StructuredTool)(nil)

// StructuredTool captures the model's final answer as schema-conforming
// JSON. The executor's boundary validation enforces the schema, so a call
// that reaches Execute is already valid and the capture always succeeds.
type StructuredTool struct {
	schema    json.RawMessage
	onCapture func(json.RawMessage)
}

// NewStructuredTool creates the capture tool for the given output schema.
// onCapture receives the validated payload once per successful call.
func NewStructuredTool(schema json.RawMessage, onCapture func(json.RawMessage)) *StructuredTool {
	return &StructuredTool{schema: schema, onCapture: onCapture}
}

func (t *StructuredTool) ID() string { return StructuredToolName }

func (t *StructuredTool) Description() string {
	return "Record your final answer as JSON matching the required schema. Call exactly once with the complete answer."
}

func (t *StructuredTool) Schema() json.RawMessage { return t.schema }

func (t *StructuredTool) Execute(_ context.Context, args json.RawMessage, _ loom.ToolContext) (*loom.ToolResult, error) {
	if t.onCapture != nil {
		captured := make(json.RawMessage, len(args))
		copy(captured, args)
		t.onCapture(captured)
	}
	return &loom.ToolResult{
		Output:   structuredOutput,
		Metadata: map[string]any{"valid": true},
	}, nil
}
