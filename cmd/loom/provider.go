package main

import (
	"context"
	"fmt"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/anthropic"
	"github.com/mbaranowski/loom/gemini"
)

// resolveConfig carries everything provider resolution needs. Env var values
// are passed in as fields; env is only read in main().
type resolveConfig struct {
	providerFlag    string
	apiKeyFlag      string
	model           string
	catalogPath     string
	anthropicEnvKey string
	geminiEnvKey    string
}

// resolveProvider selects and constructs the provider, applying catalog
// capabilities when available.
func resolveProvider(ctx context.Context, cfg resolveConfig) (string, loom.Provider, error) {
	providerID := cfg.providerFlag

	// Auto-detect from env vars if no flag.
	if providerID == "" {
		hasAnthropic := cfg.anthropicEnvKey != ""
		hasGemini := cfg.geminiEnvKey != ""
		switch {
		case hasAnthropic && hasGemini:
			return "", nil, fmt.Errorf("multiple API keys found (ANTHROPIC_API_KEY, GEMINI_API_KEY): use -provider flag to select")
		case hasAnthropic:
			providerID = "anthropic"
		case hasGemini:
			providerID = "gemini"
		default:
			return "", nil, fmt.Errorf("no API key found: set ANTHROPIC_API_KEY or GEMINI_API_KEY (or use -provider and -api-key flags)")
		}
	}

	caps, haveCaps, err := lookupCapabilities(cfg.catalogPath, providerID, cfg.model)
	if err != nil {
		return "", nil, err
	}

	// Resolve API key: explicit flag overrides env var.
	key := cfg.apiKeyFlag
	switch providerID {
	case "anthropic":
		if key == "" {
			key = cfg.anthropicEnvKey
		}
		if key == "" {
			return "", nil, fmt.Errorf("ANTHROPIC_API_KEY not set (use -api-key flag or environment variable)")
		}
		var opts []anthropic.Option
		if haveCaps {
			opts = append(opts, anthropic.WithCapabilities(caps))
		}
		return providerID, anthropic.New(key, opts...), nil
	case "gemini":
		if key == "" {
			key = cfg.geminiEnvKey
		}
		if key == "" {
			return "", nil, fmt.Errorf("GEMINI_API_KEY not set (use -api-key flag or environment variable)")
		}
		var opts []gemini.Option
		if haveCaps {
			opts = append(opts, gemini.WithCapabilities(caps))
		}
		client, err := gemini.New(ctx, key, opts...)
		if err != nil {
			return "", nil, err
		}
		return providerID, client, nil
	default:
		return "", nil, fmt.Errorf("unknown provider %q: must be \"anthropic\" or \"gemini\"", providerID)
	}
}
