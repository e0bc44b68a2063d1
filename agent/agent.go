// Package agent runs prompt turns: it gates, resolves attachments, manages
// capacity, drives the provider stream with tool execution, and finalizes
// every turn into a persisted assistant message.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbaranowski/loom"
)

// Runner executes prompt turns. Turns within one session are serialized;
// distinct sessions run concurrently.
type Runner struct {
	store     loom.Store
	providers map[string]loom.Provider
	executor  loom.ToolExecutor
	log       *slog.Logger

	limiter     loom.RateLimiter
	authorizer  loom.Authorizer
	worktrees   loom.WorktreeResolver
	compactor   loom.Compactor
	autoCompact bool
	ask         func(ctx context.Context, req loom.PermissionRequest) error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithRateLimiter installs a pre-turn usage gate.
func WithRateLimiter(l loom.RateLimiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// WithAuthorizer installs a pre-turn authorization gate.
func WithAuthorizer(a loom.Authorizer) Option {
	return func(r *Runner) { r.authorizer = a }
}

// WithWorktreeResolver maps session directories to turn working directories.
func WithWorktreeResolver(w loom.WorktreeResolver) Option {
	return func(r *Runner) { r.worktrees = w }
}

// WithAsk installs a permission prompt for tools that request one. A nil
// prompt grants every request.
func WithAsk(ask func(ctx context.Context, req loom.PermissionRequest) error) Option {
	return func(r *Runner) { r.ask = ask }
}

// WithCompactor enables automatic compaction when the capacity policy
// reports overflow.
func WithCompactor(c loom.Compactor) Option {
	return func(r *Runner) {
		r.compactor = c
		r.autoCompact = true
	}
}

// New creates a Runner. providers maps provider IDs to adapters; executor
// dispatches tool calls requested by the model.
func New(store loom.Store, providers map[string]loom.Provider, executor loom.ToolExecutor, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		providers: providers,
		executor:  executor,
		log:       slog.Default(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prompt is one user submission to a session.
type Prompt struct {
	SessionID   string
	Parts       []loom.Part
	ProviderID  string
	ModelID     string
	Agent       string
	System      string
	Format      loom.Format // nil means plain text
	MaxTokens   int
	Temperature *float64
}

// RunOption configures a single Run invocation.
type RunOption func(*runConfig)

type runConfig struct {
	onEvent func(loom.Event)
}

// WithEventHandler sets a callback that receives each streaming event during
// the run. If nil or not set, events are silently discarded.
func WithEventHandler(h func(loom.Event)) RunOption {
	return func(c *runConfig) { c.onEvent = h }
}

// Run executes one prompt turn. It blocks until any in-flight turn on the
// same session finishes. On success the returned message carries the reply;
// on failure it carries the classified error, and Run returns both the
// persisted message and the causing error. Pre-turn gate failures abort
// before anything is persisted and return only the error.
func (r *Runner) Run(ctx context.Context, p Prompt, opts ...RunOption) (loom.AssistantMessage, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	unlock := r.lockSession(p.SessionID)
	defer unlock()

	if err := r.gate(ctx, p.SessionID); err != nil {
		return loom.AssistantMessage{}, err
	}

	sess, err := r.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return loom.AssistantMessage{}, err
	}

	provider, ok := r.providers[p.ProviderID]
	if !ok {
		return loom.AssistantMessage{}, &loom.ModelError{
			ProviderID: p.ProviderID,
			ModelID:    p.ModelID,
			Message:    "no adapter registered for provider",
		}
	}
	caps := provider.Capabilities()
	model := caps.Model(p.ProviderID, p.ModelID)

	if p.Format != nil {
		if err := loom.ValidateFormat(p.Format); err != nil {
			return loom.AssistantMessage{}, err
		}
	}
	for _, part := range p.Parts {
		if err := loom.ValidatePart(part); err != nil {
			return loom.AssistantMessage{}, err
		}
	}

	dir := sess.Directory
	if r.worktrees != nil {
		dir, err = r.worktrees.Resolve(ctx, sess.Directory)
		if err != nil {
			return loom.AssistantMessage{}, err
		}
	}

	r.log.InfoContext(ctx, "turn started",
		"session", p.SessionID, "provider", p.ProviderID, "model", p.ModelID)

	userMsg, err := r.commitUserMessage(ctx, dir, sess, p)
	if err != nil {
		return loom.AssistantMessage{}, err
	}

	history, err := r.history(ctx, sess)
	if err != nil {
		return loom.AssistantMessage{}, err
	}

	compacted, err := r.maybeCompact(ctx, sess.ID, history, model)
	if err != nil {
		r.log.WarnContext(ctx, "compaction failed", "session", sess.ID, "error", err)
	} else if compacted {
		history, err = r.history(ctx, sess)
		if err != nil {
			return loom.AssistantMessage{}, err
		}
	}

	msg, runErr := r.stream(ctx, provider, model, sess, p, userMsg, history, &cfg)

	sess.Time.Updated = time.Now()
	if err := r.store.UpdateSession(context.WithoutCancel(ctx), sess); err != nil {
		r.log.WarnContext(ctx, "session update failed", "session", sess.ID, "error", err)
	}
	if runErr != nil {
		r.log.ErrorContext(ctx, "turn failed", "session", sess.ID, "error", runErr)
	} else {
		r.log.InfoContext(ctx, "turn completed",
			"session", sess.ID, "tokens", msg.Tokens.Total(), "cost", msg.Cost)
	}
	return msg, runErr
}

// lockSession acquires the per-session mutex, creating it on first use.
func (r *Runner) lockSession(sessionID string) func() {
	r.mu.Lock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[sessionID] = lock
	}
	r.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// gate runs the pre-turn checks. Any error aborts before persistence.
func (r *Runner) gate(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.authorizer != nil {
		if err := r.authorizer.Authorize(ctx, sessionID); err != nil {
			return err
		}
	}
	if r.limiter != nil {
		if err := r.limiter.Check(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// commitUserMessage resolves attachments and persists the user message with
// its parts in submission order.
func (r *Runner) commitUserMessage(ctx context.Context, dir string, sess loom.Session, p Prompt) (loom.UserMessage, error) {
	parts := r.resolveAttachments(ctx, dir, p.Parts)
	for i := range parts {
		parts[i] = withPartID(parts[i], loom.NewPartID())
	}

	msg := loom.UserMessage{
		ID:         loom.NewMessageID(),
		SessionID:  sess.ID,
		Parts:      parts,
		ProviderID: p.ProviderID,
		ModelID:    p.ModelID,
		Agent:      p.Agent,
		Format:     p.Format,
		Created:    time.Now(),
	}
	if err := r.store.CreateMessage(ctx, sess.ID, msg); err != nil {
		return loom.UserMessage{}, fmt.Errorf("persist user message: %w", err)
	}
	return msg, nil
}

// history returns the session's messages, honoring an active revert pointer
// by excluding the reverted-past suffix.
func (r *Runner) history(ctx context.Context, sess loom.Session) ([]loom.Message, error) {
	msgs, err := r.store.GetMessages(ctx, sess.ID, loom.ListFilter{})
	if err != nil {
		return nil, err
	}
	if sess.Revert == nil {
		return msgs, nil
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if loom.MessageID(m) < sess.Revert.MessageID {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// maybeCompact consults the capacity policy with the last assistant
// message's canonical tokens and invokes the compactor on overflow. It
// reports whether compaction ran so the caller can reload history.
func (r *Runner) maybeCompact(ctx context.Context, sessionID string, history []loom.Message, model loom.Model) (bool, error) {
	if r.compactor == nil {
		return false, nil
	}
	var last *loom.AssistantMessage
	for i := len(history) - 1; i >= 0; i-- {
		if am, ok := history[i].(loom.AssistantMessage); ok {
			last = &am
			break
		}
	}
	if last == nil {
		return false, nil
	}
	if !loom.IsOverflow(last.Tokens, model, r.autoCompact) {
		return false, nil
	}
	r.log.InfoContext(ctx, "compacting session",
		"session", sessionID, "tokens", last.Tokens.Total())
	if err := r.compactor.Compact(ctx, sessionID); err != nil {
		return false, err
	}
	return true, nil
}
