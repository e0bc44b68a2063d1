// Package memstore is an in-memory loom.Store for tests and embedding.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.Store = (*Store)(nil)

// Store keeps sessions and messages in process memory. Messages are held in
// insertion order per session; insertion order and ascending-ID order
// coincide because message IDs ascend in creation order.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]loom.Session
	messages map[string][]loom.Message
	bus      *loom.Bus
}

// New creates an empty Store. bus may be nil; mutations then emit nothing.
func New(bus *loom.Bus) *Store {
	return &Store{
		sessions: make(map[string]loom.Session),
		messages: make(map[string][]loom.Message),
		bus:      bus,
	}
}

// CreateSession stores a new session.
func (s *Store) CreateSession(_ context.Context, sess loom.Session) error {
	s.mu.Lock()
	if _, exists := s.sessions[sess.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.bus.Publish(loom.BusEvent{Type: loom.EventTypeSessionCreated, SessionID: sess.ID})
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(_ context.Context, id string) (loom.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return loom.Session{}, fmt.Errorf("%s: %w", id, loom.ErrSessionNotFound)
	}
	return sess, nil
}

// UpdateSession replaces a stored session.
func (s *Store) UpdateSession(_ context.Context, sess loom.Session) error {
	s.mu.Lock()
	if _, ok := s.sessions[sess.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", sess.ID, loom.ErrSessionNotFound)
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.bus.Publish(loom.BusEvent{Type: loom.EventTypeSessionUpdated, SessionID: sess.ID})
	return nil
}

// CreateMessage appends a message, with its parts, in one commit.
func (s *Store) CreateMessage(_ context.Context, sessionID string, msg loom.Message) error {
	if _, ok := msg.(loom.ToolResultMessage); ok {
		return fmt.Errorf("tool result messages are transient, not stored")
	}
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, loom.ErrSessionNotFound)
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.mu.Unlock()

	s.bus.Publish(loom.BusEvent{
		Type:      loom.EventTypeMessageCreated,
		SessionID: sessionID,
		MessageID: loom.MessageID(msg),
	})
	return nil
}

// AppendPart attaches a part to an existing message, preserving supply order.
func (s *Store) AppendPart(_ context.Context, sessionID, messageID string, p loom.Part) error {
	s.mu.Lock()
	msgs := s.messages[sessionID]
	idx := -1
	for i, m := range msgs {
		if loom.MessageID(m) == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", messageID, loom.ErrMessageNotFound)
	}
	switch m := msgs[idx].(type) {
	case loom.UserMessage:
		m.Parts = append(m.Parts, p)
		msgs[idx] = m
	case loom.AssistantMessage:
		m.Parts = append(m.Parts, p)
		msgs[idx] = m
	}
	s.mu.Unlock()

	s.bus.Publish(loom.BusEvent{
		Type:       loom.EventTypePartCreated,
		SessionID:  sessionID,
		MessageID:  messageID,
		Properties: map[string]any{"partID": loom.PartID(p)},
	})
	return nil
}

// GetMessages returns the session's messages in ascending ID order, narrowed
// by the filter.
func (s *Store) GetMessages(_ context.Context, sessionID string, f loom.ListFilter) ([]loom.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []loom.Message
	for _, m := range s.messages[sessionID] {
		if f.Start != "" && loom.MessageID(m) <= f.Start {
			continue
		}
		if f.Roots && m.Role() != loom.RoleUser {
			continue
		}
		if f.Search != "" && !matchesSearch(m, f.Search) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// SetRevert sets the session's revert pointer.
func (s *Store) SetRevert(_ context.Context, sessionID string, r loom.Revert) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, loom.ErrSessionNotFound)
	}
	sess.Revert = &r
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.bus.Publish(loom.BusEvent{
		Type:       loom.EventTypeSessionRevert,
		SessionID:  sessionID,
		MessageID:  r.MessageID,
		Properties: map[string]any{"active": true},
	})
	return nil
}

// ClearRevert clears the session's revert pointer.
func (s *Store) ClearRevert(_ context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, loom.ErrSessionNotFound)
	}
	sess.Revert = nil
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.bus.Publish(loom.BusEvent{
		Type:       loom.EventTypeSessionRevert,
		SessionID:  sessionID,
		Properties: map[string]any{"active": false},
	})
	return nil
}

func matchesSearch(m loom.Message, needle string) bool {
	var parts []loom.Part
	switch v := m.(type) {
	case loom.UserMessage:
		parts = v.Parts
	case loom.AssistantMessage:
		parts = v.Parts
	}
	for _, p := range parts {
		if tp, ok := p.(loom.TextPart); ok && strings.Contains(tp.Text, needle) {
			return true
		}
	}
	return false
}
