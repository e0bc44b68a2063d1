package loom

// IsOverflow reports whether the accumulated context would overflow the
// model's usable window, meaning compaction must run before the next turn.
// It is consulted with the canonical tokens of the most recent assistant
// message, before building the next request.
//
// Reasoning tokens are excluded from the count: they are transient
// generation cost, not context occupied.
//
// Known asymmetry: when a model declares Limit.Input, the full cap is used
// with no headroom reserved for the next response, while the Context-Output
// path reserves it. Two models with identical real capacity can therefore
// disagree on when to compact. This reproduces observed behavior on purpose;
// see DESIGN.md before changing the formula.
func IsOverflow(t Tokens, m Model, autoCompact bool) bool {
	if !autoCompact || m.Limit.Context <= 0 {
		return false
	}
	count := t.Input + t.Output + t.Cache.Read + t.Cache.Write
	usable := m.Limit.Context - m.Limit.Output
	if m.Limit.Input > 0 {
		usable = m.Limit.Input
	}
	return count > usable
}
