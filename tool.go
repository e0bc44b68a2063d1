package loom

import (
	"context"
	"encoding/json"
)

// Tool is implemented by every tool exposed to the model, including the
// synthetic structured-output capture tool.
//
// Execute may assume args already validated against Schema(): the dispatch
// boundary rejects malformed calls before Execute is invoked. Execute
// returns error for infrastructure failures; ToolResult.IsError indicates
// tool-reported domain failures sent back to the model.
type Tool interface {
	ID() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (*ToolResult, error)
}

// ToolContext carries per-call identity and callbacks into a tool execution.
// The abort signal travels on the context passed to Execute.
type ToolContext struct {
	SessionID string
	MessageID string
	CallID    string
	Agent     string

	// Ask prompts the user for permission. A nil Ask grants everything.
	Ask func(ctx context.Context, req PermissionRequest) error

	// Metadata reports incremental execution metadata for observers.
	// A nil Metadata discards reports.
	Metadata func(meta map[string]any)
}

// PermissionRequest describes an action a tool wants approved.
type PermissionRequest struct {
	Title      string
	Properties map[string]any
}

// ToolResult represents the outcome of a tool execution.
type ToolResult struct {
	Output      string
	Metadata    map[string]any
	Attachments []Attachment
	IsError     bool
}

// Attachment is binary content produced by a tool, carried as a base64 data
// URL. Attachments carry no session/message/part identifiers at this layer;
// the persistence layer assigns them when the attachment is stored.
type Attachment struct {
	URL      string
	Mime     string
	Filename string
}

// ToolDef is the schema-bearing descriptor sent to a provider.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolExecutor dispatches tool calls by name, validating arguments at the
// boundary before the tool runs.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage, tc ToolContext) (*ToolResult, error)
	Tools() []ToolDef
}

// CleanSchema strips the $schema meta-key before a schema is exposed to a
// provider. Providers reject unknown meta-keys in tool schemas. Returns the
// input unchanged when it is not a JSON object or carries no $schema.
func CleanSchema(schema json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(schema, &obj); err != nil {
		return schema
	}
	if _, ok := obj["$schema"]; !ok {
		return schema
	}
	delete(obj, "$schema")
	cleaned, err := json.Marshal(obj)
	if err != nil {
		return schema
	}
	return cleaned
}
