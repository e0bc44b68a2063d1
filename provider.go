package loom

import "context"

// Provider is a strategy pattern interface for LLM providers. Adapters
// normalize their API specifics to the Stream event model and the RawUsage
// reporting contract.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Capabilities() Capabilities
}

// Capabilities describes what a provider adapter supports and how its token
// accounting should be interpreted.
type Capabilities struct {
	Family           Family
	Limit            Limit
	Cost             Rates
	ToolCalls        bool
	StructuredOutput bool
	Attachments      bool
}

// Model returns the capability descriptor as a Model for capacity and cost
// decisions.
func (c Capabilities) Model(providerID, modelID string) Model {
	return Model{
		ID:         modelID,
		ProviderID: providerID,
		Family:     c.Family,
		Limit:      c.Limit,
		Cost:       c.Cost,
	}
}
