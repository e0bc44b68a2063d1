package loom

import "context"

// Pre-turn gates. The engine calls these as opaque checks before any
// provider call; any error they return is a terminal turn failure, surfaced
// through the error taxonomy (rate limiters return the usage-limit errors
// with a RetryAfter hint).

// RateLimiter admits or rejects a turn for a limiting key.
type RateLimiter interface {
	Check(ctx context.Context, key string) error
}

// Authorizer verifies the caller may run a turn in the session.
type Authorizer interface {
	Authorize(ctx context.Context, sessionID string) error
}

// WorktreeResolver maps a session's directory to the working directory the
// turn should run in.
type WorktreeResolver interface {
	Resolve(ctx context.Context, directory string) (string, error)
}

// Compactor summarizes a session's context when the capacity policy reports
// overflow. It is invoked synchronously before the request is built.
type Compactor interface {
	Compact(ctx context.Context, sessionID string) error
}
