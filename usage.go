package loom

// RawUsage is a provider's usage report before normalization.
// CachedInputTokens is a pointer because presence matters: providers that
// report no cache figure at all are handled differently from providers
// reporting zero.
type RawUsage struct {
	InputTokens       int
	OutputTokens      int
	ReasoningTokens   int
	CachedInputTokens *int
	TotalTokens       int
}

// ProviderMetadata carries family-specific usage extensions that do not fit
// the common RawUsage shape.
type ProviderMetadata struct {
	Anthropic *AnthropicUsage
	Bedrock   *BedrockUsage
}

// AnthropicUsage mirrors the cache fields of the Anthropic Messages API.
type AnthropicUsage struct {
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// BedrockUsage mirrors the cache fields of the Bedrock Converse API.
type BedrockUsage struct {
	CacheWriteInputTokens int
}

// Family identifies a provider's token-accounting style.
type Family string

const (
	FamilyAnthropic       Family = "anthropic"
	FamilyBedrock         Family = "bedrock"
	FamilyVertexAnthropic Family = "vertex-anthropic"
	FamilyGoogle          Family = "google"
	FamilyOpenAI          Family = "openai"
)

// Normalize converts a provider's raw usage report into the canonical
// breakdown.
//
// Cache reads: when CachedInputTokens is present it becomes Cache.Read and
// is subtracted from Input, except under Anthropic-style accounting
// (an anthropic metadata block present), where the provider already reports
// input exclusive of cache and Input is left unmodified. The subtraction
// clamps at zero to guard against inconsistent upstream data.
//
// Cache writes come from family-specific metadata and default to zero.
func Normalize(raw RawUsage, meta ProviderMetadata, family Family) Tokens {
	t := Tokens{
		Input:     raw.InputTokens,
		Output:    raw.OutputTokens,
		Reasoning: raw.ReasoningTokens,
	}
	if raw.CachedInputTokens != nil {
		t.Cache.Read = *raw.CachedInputTokens
		if meta.Anthropic == nil {
			t.Input = max(0, t.Input-t.Cache.Read)
		}
	}
	switch {
	case meta.Anthropic != nil:
		t.Cache.Write = meta.Anthropic.CacheCreationInputTokens
		if raw.CachedInputTokens == nil {
			t.Cache.Read = meta.Anthropic.CacheReadInputTokens
		}
	case meta.Bedrock != nil:
		t.Cache.Write = meta.Bedrock.CacheWriteInputTokens
	}
	return t
}

// TotalTokens returns the context-relevant total for a raw report.
// Anthropic-family totals exclude cache tokens, so for those families the
// total is recomputed from the normalized breakdown rather than trusted
// verbatim. Other families' reported totals are used when present.
func TotalTokens(raw RawUsage, meta ProviderMetadata, family Family) int {
	switch family {
	case FamilyAnthropic, FamilyBedrock, FamilyVertexAnthropic:
		return Normalize(raw, meta, family).Total()
	default:
		if raw.TotalTokens > 0 {
			return raw.TotalTokens
		}
		return Normalize(raw, meta, family).Total()
	}
}

// Cost computes the USD cost of a message at the model's per-million-token
// rates. Missing (zero) rates contribute nothing, and all-zero token counts
// cost exactly 0, never NaN.
func Cost(t Tokens, r Rates) float64 {
	return float64(t.Input)/1e6*r.Input +
		float64(t.Output)/1e6*r.Output +
		float64(t.Cache.Read)/1e6*r.CacheRead +
		float64(t.Cache.Write)/1e6*r.CacheWrite5m
}
