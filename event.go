package loom

import "encoding/json"

// Event is a sealed interface representing a streaming event.
// Events are purely semantic. Transport/protocol errors come from
// Next()'s error return, not from events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventTextDelta represents a text content delta.
type EventTextDelta struct {
	Delta string
}

func (EventTextDelta) event() {}

// EventReasoningDelta represents a reasoning/thinking content delta.
type EventReasoningDelta struct {
	Delta string
}

func (EventReasoningDelta) event() {}

// EventToolCallBegin signals that the provider requested a tool call.
type EventToolCallBegin struct {
	ID   string
	Name string
}

func (EventToolCallBegin) event() {}

// EventToolCallDelta represents an argument delta for a tool call.
type EventToolCallDelta struct {
	ID    string
	Delta string
}

func (EventToolCallDelta) event() {}

// EventToolCallEnd signals the completion of a tool call with the assembled
// call.
type EventToolCallEnd struct {
	Call ToolCall
}

func (EventToolCallEnd) event() {}

// EventUsage carries the provider's usage report. Providers may emit it more
// than once; only the final report before completion is authoritative, and
// partial reports are never persisted.
type EventUsage struct {
	Usage    RawUsage
	Metadata ProviderMetadata
}

func (EventUsage) event() {}

// ToolCall is a fully assembled tool invocation requested by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Interface compliance checks.
var (
	_ Event = EventTextDelta{}
	_ Event = EventReasoningDelta{}
	_ Event = EventToolCallBegin{}
	_ Event = EventToolCallDelta{}
	_ Event = EventToolCallEnd{}
	_ Event = EventUsage{}
)
