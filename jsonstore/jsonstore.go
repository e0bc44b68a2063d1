// Package jsonstore is a file-backed loom.Store. Each session lives in one
// JSON file under the store's root directory, written atomically via a temp
// file and rename so a message-plus-parts commit is all-or-nothing.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.Store = (*Store)(nil)

// Store persists sessions as JSON files. A single process-wide mutex guards
// file access; the engine already serializes turns per session, so the lock
// only protects concurrent sessions from interleaved partial writes.
type Store struct {
	mu   sync.Mutex
	root string
	bus  *loom.Bus
}

// New creates a Store rooted at dir, creating it if needed. bus may be nil.
func New(dir string, bus *loom.Bus) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: dir, bus: bus}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.root, sessionID+".json")
}

func (s *Store) load(sessionID string) (envelope, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return envelope{}, fmt.Errorf("%s: %w", sessionID, loom.ErrSessionNotFound)
		}
		return envelope{}, fmt.Errorf("read session file: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return envelope{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	return env, nil
}

func (s *Store) save(env envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	path := s.path(env.Session.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// CreateSession persists a new session with no messages.
func (s *Store) CreateSession(_ context.Context, sess loom.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(sess.ID)); err == nil {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	env := envelope{Version: 1, Session: marshalSession(sess)}
	if err := s.save(env); err != nil {
		return err
	}
	s.bus.Publish(loom.BusEvent{Type: loom.EventTypeSessionCreated, SessionID: sess.ID})
	return nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(_ context.Context, id string) (loom.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load(id)
	if err != nil {
		return loom.Session{}, err
	}
	return unmarshalSession(env.Session), nil
}

// UpdateSession replaces the persisted session metadata, keeping messages.
func (s *Store) UpdateSession(_ context.Context, sess loom.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load(sess.ID)
	if err != nil {
		return err
	}
	env.Session = marshalSession(sess)
	if err := s.save(env); err != nil {
		return err
	}
	s.bus.Publish(loom.BusEvent{Type: loom.EventTypeSessionUpdated, SessionID: sess.ID})
	return nil
}

// CreateMessage appends a message with its parts in one atomic file write.
func (s *Store) CreateMessage(_ context.Context, sessionID string, msg loom.Message) error {
	if _, ok := msg.(loom.ToolResultMessage); ok {
		return fmt.Errorf("tool result messages are transient, not stored")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load(sessionID)
	if err != nil {
		return err
	}
	dto, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	env.Messages = append(env.Messages, dto)
	if err := s.save(env); err != nil {
		return err
	}
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
	defer s.mu.Unlock()
	env, err := s.load(sessionID)
	if err != nil {
		return err
	}
	idx := -1
	for i := range env.Messages {
		if env.Messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%s: %w", messageID, loom.ErrMessageNotFound)
	}
	dto, err := marshalPart(p)
	if err != nil {
		return err
	}
	env.Messages[idx].Parts = append(env.Messages[idx].Parts, dto)
	if err := s.save(env); err != nil {
		return err
	}
	s.bus.Publish(loom.BusEvent{
		Type:       loom.EventTypePartCreated,
		SessionID:  sessionID,
		MessageID:  messageID,
		Properties: map[string]any{"partID": loom.PartID(p)},
	})
	return nil
}

// GetMessages loads the session's messages in stored (ascending ID) order,
// narrowed by the filter.
func (s *Store) GetMessages(_ context.Context, sessionID string, f loom.ListFilter) ([]loom.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	var out []loom.Message
	for _, dto := range env.Messages {
		if f.Start != "" && dto.ID <= f.Start {
			continue
		}
		if f.Roots && dto.Type != "user" {
			continue
		}
		if f.Search != "" && !dtoMatchesSearch(dto, f.Search) {
			continue
		}
		msg, err := unmarshalMessage(dto)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// SetRevert persists the session's revert pointer.
func (s *Store) SetRevert(_ context.Context, sessionID string, r loom.Revert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load(sessionID)
	if err != nil {
		return err
	}
	env.Session.Revert = &revertDTO{
		MessageID: r.MessageID,
		PartID:    r.PartID,
		Snapshot:  r.Snapshot,
		Diff:      r.Diff,
	}
	if err := s.save(env); err != nil {
		return err
	}
	s.bus.Publish(loom.BusEvent{
		Type:       loom.EventTypeSessionRevert,
		SessionID:  sessionID,
		MessageID:  r.MessageID,
		Properties: map[string]any{"active": true},
	})
	return nil
}

// ClearRevert clears the persisted revert pointer.
func (s *Store) ClearRevert(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load(sessionID)
	if err != nil {
		return err
	}
	env.Session.Revert = nil
	if err := s.save(env); err != nil {
		return err
	}
	s.bus.Publish(loom.BusEvent{
		Type:       loom.EventTypeSessionRevert,
		SessionID:  sessionID,
		Properties: map[string]any{"active": false},
	})
	return nil
}

func dtoMatchesSearch(dto messageDTO, needle string) bool {
	for _, p := range dto.Parts {
		if p.Type == "text" && p.Text != nil && strings.Contains(*p.Text, needle) {
			return true
		}
	}
	return false
}
