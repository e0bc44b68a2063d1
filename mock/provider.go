// Package mock provides test doubles for loom interfaces using function fields.
package mock

import (
	"context"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.Provider = (*Provider)(nil)

// Provider is a test double for loom.Provider.
// Set StreamFn before calling Stream. Caps is returned by Capabilities.
type Provider struct {
	StreamFn func(ctx context.Context, req loom.Request) (loom.Stream, error)
	Caps     loom.Capabilities
}

// Stream delegates to StreamFn.
func (p *Provider) Stream(ctx context.Context, req loom.Request) (loom.Stream, error) {
	return p.StreamFn(ctx, req)
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() loom.Capabilities {
	return p.Caps
}
