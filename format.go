package loom

import "encoding/json"

// Format is a sealed interface declaring the contract the assistant reply
// must satisfy. It is persisted on the user message that requested it and
// never re-derived later.
type Format interface {
	isFormat()
}

// TextFormat is the default free-text contract.
type TextFormat struct{}

func (TextFormat) isFormat() {}

// DefaultStructuredRetries is the retry budget when JSONSchemaFormat does
// not specify one.
const DefaultStructuredRetries = 2

// JSONSchemaFormat requires the reply to conform to Schema, captured via the
// structured-output tool rather than free text.
type JSONSchemaFormat struct {
	Schema     json.RawMessage
	RetryCount int // 0 means DefaultStructuredRetries
}

func (JSONSchemaFormat) isFormat() {}

// Retries returns the effective retry budget.
func (f JSONSchemaFormat) Retries() int {
	if f.RetryCount <= 0 {
		return DefaultStructuredRetries
	}
	return f.RetryCount
}

// Interface compliance checks.
var (
	_ Format = TextFormat{}
	_ Format = JSONSchemaFormat{}
)
