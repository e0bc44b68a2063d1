package loom

import "context"

// Store persists sessions and their messages. Implementations must support
// read-after-write within the same process, expose per-session ordering by
// ascending message ID, and commit a message together with its parts
// atomically. The engine serializes turns per session, so stores need no
// additional per-session locking for correctness, only internal consistency.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, s Session) error

	// CreateMessage persists a message and its parts in one atomic commit.
	CreateMessage(ctx context.Context, sessionID string, msg Message) error

	// AppendPart attaches a part to an existing message, preserving the
	// order in which parts were supplied.
	AppendPart(ctx context.Context, sessionID, messageID string, p Part) error

	GetMessages(ctx context.Context, sessionID string, f ListFilter) ([]Message, error)

	SetRevert(ctx context.Context, sessionID string, r Revert) error
	ClearRevert(ctx context.Context, sessionID string) error
}

// ListFilter narrows a GetMessages query. The zero value returns every
// message in the session in ascending ID order.
type ListFilter struct {
	// Limit caps the number of messages returned; 0 means no cap.
	Limit int
	// Search keeps only messages with a text part containing the substring.
	Search string
	// Start returns messages with ID strictly greater than Start.
	Start string
	// Roots keeps only user messages, the roots of each turn.
	Roots bool
}
