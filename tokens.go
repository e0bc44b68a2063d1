package loom

// Tokens is the provider-agnostic token breakdown for one assistant message.
//
// Invariant across all providers:
//
//	Input       = non-cached input tokens
//	Cache.Read  = tokens served from cache (cache hit)
//	Cache.Write = tokens written to cache (cache creation)
//	Reasoning   = tokens spent on reasoning/thinking output
//
// Each category has a different cost rate. Providers normalize their
// API-specific fields to this invariant via Normalize; a finalized message's
// Tokens are never mutated afterwards.
type Tokens struct {
	Input     int
	Output    int
	Reasoning int
	Cache     CacheTokens
}

// CacheTokens splits cache traffic into reads and writes.
type CacheTokens struct {
	Read  int
	Write int
}

// Total returns the full context-relevant token count. It is always derived:
// Anthropic-family providers report totals exclusive of cache tokens, so a
// provider-reported total is never trusted verbatim.
func (t Tokens) Total() int {
	return t.Input + t.Output + t.Cache.Read + t.Cache.Write
}
