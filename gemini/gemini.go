// Package gemini implements [loom.Provider] for the Google Gemini API.
//
// It wraps the google.golang.org/genai SDK, translating between loom's
// domain types and the Gemini API types. Streaming uses the SDK's iter.Seq2
// iterator, wrapped into the pull-based [loom.Stream] interface. Cache
// accounting arrives as CachedContentTokenCount and is reported through
// [loom.RawUsage.CachedInputTokens]; the normalizer's default rules subtract
// it from input.
package gemini

const (
	defaultModel     = "gemini-2.5-pro"
	defaultMaxTokens = 65536
)
