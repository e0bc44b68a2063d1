// Command loom runs a single prompt turn against a session, streaming the
// reply to stdout.
//
// Usage:
//
//	ANTHROPIC_API_KEY=sk-... loom [flags] <prompt>
//	GEMINI_API_KEY=gk-...   loom [flags] <prompt>
//
// The prompt is read from the arguments, or from stdin when no arguments are
// given.
//
// Flags:
//
//	-provider string      Provider: anthropic, gemini (auto-detected from env vars if omitted)
//	-model string         Model ID (default: provider default)
//	-session string       Session ID to resume (default: create a new session)
//	-data string          Session store directory (default ~/.loom/sessions; "none" for in-memory)
//	-catalog string       Path to a model catalog YAML for limits and pricing
//	-system-prompt string Path to system prompt file (default: .loom/prompt.md)
//	-schema string        Path to a JSON schema; the reply is captured as structured output
//	-api-key string       API key (overrides provider's env var)
//	-hour-limit int       Max prompts per rolling hour window (0 = unlimited)
//	-day-limit int        Max prompts per UTC day (0 = unlimited)
//	-v                    Verbose logging
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/agent"
	"github.com/mbaranowski/loom/builtin"
	"github.com/mbaranowski/loom/catalog"
	"github.com/mbaranowski/loom/jsonstore"
	"github.com/mbaranowski/loom/memstore"
	"github.com/mbaranowski/loom/ratelimit"
	"github.com/mbaranowski/loom/shell"
)

const defaultPromptPath = ".loom/prompt.md"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		providerFlag = flag.String("provider", "", "Provider: anthropic, gemini (auto-detected from env vars if omitted)")
		model        = flag.String("model", "", "Model ID (provider-specific)")
		sessionID    = flag.String("session", "", "Session ID to resume")
		dataDir      = flag.String("data", "", `Session store directory (default ~/.loom/sessions; "none" for in-memory)`)
		catalogPath  = flag.String("catalog", "", "Path to a model catalog YAML")
		promptPath   = flag.String("system-prompt", defaultPromptPath, "Path to system prompt file")
		schemaPath   = flag.String("schema", "", "Path to a JSON schema for structured output")
		apiKey       = flag.String("api-key", "", "API key (overrides provider's env var)")
		hourLimit    = flag.Int("hour-limit", 0, "Max prompts per rolling hour window (0 = unlimited)")
		dayLimit     = flag.Int("day-limit", 0, "Max prompts per UTC day (0 = unlimited)")
		verbose      = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := newLogger(*verbose)

	// Resolve provider. Env vars are read here and passed as values.
	providerID, provider, err := resolveProvider(ctx, resolveConfig{
		providerFlag:    *providerFlag,
		apiKeyFlag:      *apiKey,
		model:           *model,
		catalogPath:     *catalogPath,
		anthropicEnvKey: os.Getenv("ANTHROPIC_API_KEY"),
		geminiEnvKey:    os.Getenv("GEMINI_API_KEY"),
	})
	if err != nil {
		return err
	}

	store, err := openStore(*dataDir)
	if err != nil {
		return err
	}

	prompt, err := promptText(flag.Args())
	if err != nil {
		return err
	}

	system, err := systemPrompt(*promptPath)
	if err != nil {
		return err
	}

	format, err := loadFormat(*schemaPath)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, store, *sessionID)
	if err != nil {
		return err
	}

	executor, err := builtin.NewExecutor(
		builtin.NewReadTool(sess.Directory),
		builtin.NewWebFetchTool(http.DefaultClient),
		shell.New(sess.Directory),
	)
	if err != nil {
		return err
	}

	runnerOpts := []agent.Option{
		agent.WithLogger(log),
		agent.WithAsk(askTerminal),
	}
	if *hourLimit > 0 || *dayLimit > 0 {
		limiter := ratelimit.New(ratelimit.NewMemoryCounter(), ratelimit.Config{
			Plan:      ratelimit.PlanFree,
			HourLimit: *hourLimit,
			DayLimit:  *dayLimit,
		})
		runnerOpts = append(runnerOpts, agent.WithRateLimiter(limiter))
	}

	runner := agent.New(store, map[string]loom.Provider{providerID: provider}, executor, runnerOpts...)

	msg, err := runner.Run(ctx, agent.Prompt{
		SessionID:  sess.ID,
		Parts:      []loom.Part{loom.TextPart{Text: prompt}},
		ProviderID: providerID,
		ModelID:    *model,
		System:     system,
		Format:     format,
	}, agent.WithEventHandler(printEvent))
	fmt.Println()
	if err != nil {
		return err
	}

	if msg.Structured != nil {
		fmt.Println(string(msg.Structured))
	}
	fmt.Fprintf(os.Stderr, "session %s (%d in / %d out tokens, $%.4f)\n",
		sess.ID, msg.Tokens.Input, msg.Tokens.Output, msg.Cost)
	return nil
}

// printEvent streams text deltas to stdout and tool activity to stderr.
func printEvent(evt loom.Event) {
	switch e := evt.(type) {
	case loom.EventTextDelta:
		fmt.Print(e.Delta)
	case loom.EventToolCallBegin:
		fmt.Fprintf(os.Stderr, "[%s]\n", e.Name)
	}
}

// askTerminal prompts on the terminal for tool permission.
func askTerminal(ctx context.Context, req loom.PermissionRequest) error {
	fmt.Fprintf(os.Stderr, "%s — allow? [y/N] ", req.Title)
	var answer string
	fmt.Fscanln(os.Stdin, &answer)
	if s := strings.ToLower(strings.TrimSpace(answer)); s == "y" || s == "yes" {
		return nil
	}
	return fmt.Errorf("permission denied")
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore(dataDir string) (loom.Store, error) {
	if dataDir == "none" {
		return memstore.New(nil), nil
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".loom", "sessions")
	}
	store, err := jsonstore.New(dataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return store, nil
}

func openSession(ctx context.Context, store loom.Store, sessionID string) (loom.Session, error) {
	if sessionID != "" {
		sess, err := store.GetSession(ctx, sessionID)
		if err != nil {
			return loom.Session{}, fmt.Errorf("resume session: %w", err)
		}
		return sess, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return loom.Session{}, err
	}
	now := time.Now()
	sess := loom.Session{
		ID:        loom.NewSessionID(),
		Directory: dir,
		Time:      loom.SessionTime{Created: now, Updated: now},
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		return loom.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// promptText joins the positional arguments, falling back to stdin.
func promptText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("empty prompt: pass it as arguments or on stdin")
	}
	return text, nil
}

// systemPrompt loads the system prompt file. A missing default path falls
// back to a built-in prompt; an explicit path must exist.
func systemPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return string(data), nil
	case errors.Is(err, os.ErrNotExist) && path == defaultPromptPath:
		return "You are a helpful assistant.", nil
	default:
		return "", fmt.Errorf("read system prompt: %w", err)
	}
}

func loadFormat(schemaPath string) (loom.Format, error) {
	if schemaPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return loom.JSONSchemaFormat{Schema: json.RawMessage(data)}, nil
}

// lookupCapabilities maps a catalog entry onto provider capabilities.
// A missing catalog or model keeps the adapter's built-in defaults.
func lookupCapabilities(catalogPath, providerID, modelID string) (loom.Capabilities, bool, error) {
	if catalogPath == "" || modelID == "" {
		return loom.Capabilities{}, false, nil
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return loom.Capabilities{}, false, fmt.Errorf("load catalog: %w", err)
	}
	m, err := cat.Lookup(providerID, modelID)
	if err != nil {
		var modelErr *loom.ModelError
		if errors.As(err, &modelErr) {
			return loom.Capabilities{}, false, nil
		}
		return loom.Capabilities{}, false, err
	}
	return loom.Capabilities{
		Family:           m.Family,
		Limit:            m.Limit,
		Cost:             m.Cost,
		ToolCalls:        true,
		StructuredOutput: true,
		Attachments:      true,
	}, true, nil
}
