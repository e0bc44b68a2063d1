package mock

import (
	"context"

	"github.com/mbaranowski/loom"
)

// Interface compliance checks.
var (
	_ loom.RateLimiter      = (*RateLimiter)(nil)
	_ loom.Authorizer       = (*Authorizer)(nil)
	_ loom.WorktreeResolver = (*WorktreeResolver)(nil)
	_ loom.Compactor        = (*Compactor)(nil)
)

// RateLimiter is a test double for loom.RateLimiter.
// A nil CheckFn admits everything.
type RateLimiter struct {
	CheckFn func(ctx context.Context, key string) error
}

// Check delegates to CheckFn.
func (r *RateLimiter) Check(ctx context.Context, key string) error {
	if r.CheckFn == nil {
		return nil
	}
	return r.CheckFn(ctx, key)
}

// Authorizer is a test double for loom.Authorizer.
// A nil AuthorizeFn authorizes everything.
type Authorizer struct {
	AuthorizeFn func(ctx context.Context, sessionID string) error
}

// Authorize delegates to AuthorizeFn.
func (a *Authorizer) Authorize(ctx context.Context, sessionID string) error {
	if a.AuthorizeFn == nil {
		return nil
	}
	return a.AuthorizeFn(ctx, sessionID)
}

// WorktreeResolver is a test double for loom.WorktreeResolver.
// A nil ResolveFn returns the directory unchanged.
type WorktreeResolver struct {
	ResolveFn func(ctx context.Context, directory string) (string, error)
}

// Resolve delegates to ResolveFn.
func (w *WorktreeResolver) Resolve(ctx context.Context, directory string) (string, error) {
	if w.ResolveFn == nil {
		return directory, nil
	}
	return w.ResolveFn(ctx, directory)
}

// Compactor is a test double for loom.Compactor.
// A nil CompactFn succeeds without doing anything.
type Compactor struct {
	CompactFn func(ctx context.Context, sessionID string) error
}

// Compact delegates to CompactFn.
func (c *Compactor) Compact(ctx context.Context, sessionID string) error {
	if c.CompactFn == nil {
		return nil
	}
	return c.CompactFn(ctx, sessionID)
}
