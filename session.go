// Package loom is an agent-session execution engine. It drives multi-turn
// conversations between a user, tool-calling passes, and a streaming
// language-model provider, tracking token budgets, cost, and
// structured-output contracts across heterogeneous provider accounting
// formats.
package loom

import "time"

// Session identifies a conversation thread. Messages belong to exactly one
// session; a sub-session references the session that spawned it via ParentID.
type Session struct {
	ID        string
	ParentID  string
	Directory string
	Title     string
	Time      SessionTime
	Revert    *Revert
	Share     *Share
}

// SessionTime records session lifecycle timestamps. A zero Archived value
// means the session has not been archived.
type SessionTime struct {
	Created  time.Time
	Updated  time.Time
	Archived time.Time
}

// Revert marks a session as viewed/edited as of just before MessageID.
// There is a single active pointer per session, not a deep undo log.
// Snapshot carries whatever the caller needs to restore file state when the
// revert is applied; the engine only tracks the pointer.
type Revert struct {
	MessageID string
	PartID    string
	Snapshot  string
	Diff      string
}

// Share holds public share metadata for a session.
type Share struct {
	URL string
}

// Undo moves the revert pointer to the nearest earlier user message.
// candidates is the ordered (ascending by ID) list of user-message IDs in
// the session; the caller resolves which view is active from the pointer.
// Returns false when there is no earlier message to revert to.
func (s *Session) Undo(candidates []string) bool {
	if len(candidates) == 0 {
		return false
	}
	if s.Revert == nil {
		s.Revert = &Revert{MessageID: candidates[len(candidates)-1]}
		return true
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i] < s.Revert.MessageID {
			s.Revert = &Revert{MessageID: candidates[i]}
			return true
		}
	}
	return false
}

// Redo advances the revert pointer toward the latest message, clearing it
// when the pointer moves past the last candidate. Returns false when no
// revert is active.
func (s *Session) Redo(candidates []string) bool {
	if s.Revert == nil {
		return false
	}
	for _, id := range candidates {
		if id > s.Revert.MessageID {
			s.Revert = &Revert{MessageID: id}
			return true
		}
	}
	s.Revert = nil
	return true
}
