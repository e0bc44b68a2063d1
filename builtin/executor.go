package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mbaranowski/loom"
)

// Compile-time interface check.
var _ loom.ToolExecutor = (*Executor)(nil)

// Executor dispatches tool calls by name to registered tools. Arguments are
// validated against the tool's schema before the tool runs; malformed calls
// come back as IsError results so the model can self-correct.
type Executor struct {
	mu      sync.RWMutex
	tools   map[string]loom.Tool
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewExecutor creates an Executor over the given tools.
func NewExecutor(tools ...loom.Tool) (*Executor, error) {
	e := &Executor{
		tools:   make(map[string]loom.Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, t := range tools {
		if err := e.Register(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a tool, compiling its schema. Registering a name twice is
// an error.
func (e *Executor) Register(t loom.Tool) error {
	name := t.ID()
	if name == "" {
		return fmt.Errorf("builtin: tool with empty id")
	}

	sch, err := compileSchema(name, t.Schema())
	if err != nil {
		return fmt.Errorf("builtin: tool %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tools[name]; ok {
		return fmt.Errorf("builtin: tool %s already registered", name)
	}
	e.tools[name] = t
	e.order = append(e.order, name)
	e.schemas[name] = sch
	return nil
}

// Execute validates args against the named tool's schema and runs it.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error) {
	e.mu.RLock()
	t, ok := e.tools[name]
	sch := e.schemas[name]
	e.mu.RUnlock()
	if !ok {
		return errResult(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var parsed any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return errResult(fmt.Sprintf("invalid arguments for %s: %s", name, err)), nil
	}
	if err := sch.Validate(parsed); err != nil {
		return errResult(fmt.Sprintf("arguments for %s do not match its schema: %s", name, err)), nil
	}

	return t.Execute(ctx, args, tc)
}

// Tools returns the definitions of all registered tools in registration
// order, with schemas cleaned for provider consumption.
func (e *Executor) Tools() []loom.ToolDef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]loom.ToolDef, 0, len(e.order))
	for _, name := range e.order {
		t := e.tools[name]
		defs = append(defs, loom.ToolDef{
			Name:        t.ID(),
			Description: t.Description(),
			Schema:      loom.CleanSchema(t.Schema()),
		})
	}
	return defs
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}
