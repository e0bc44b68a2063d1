package jsonstore_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/jsonstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *jsonstore.Store {
	t.Helper()
	s, err := jsonstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func createSession(t *testing.T, s *jsonstore.Store) loom.Session {
	t.Helper()
	sess := loom.Session{
		ID:    loom.NewSessionID(),
		Title: "test session",
		Time:  loom.SessionTime{Created: time.Now().UTC(), Updated: time.Now().UTC()},
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	sess := createSession(t, s)
	ctx := context.Background()

	user := loom.UserMessage{
		ID:        loom.NewMessageID(),
		SessionID: sess.ID,
		Parts: []loom.Part{
			loom.TextPart{ID: loom.NewPartID(), Text: "summarize @notes.md", Start: 0, End: 19},
			loom.FilePart{
				ID:       loom.NewPartID(),
				URL:      "file:///tmp/notes.md",
				Mime:     "text/markdown",
				Filename: "notes.md",
				Source:   loom.TextSource{Value: "@notes.md", Start: 10, End: 19},
			},
			loom.ImagePart{ID: loom.NewPartID(), Data: "aGVsbG8=", Mime: "image/png"},
		},
		ProviderID: "anthropic",
		ModelID:    "claude-sonnet-4-20250514",
		Agent:      "build",
		Format:     loom.JSONSchemaFormat{Schema: json.RawMessage(`{"type":"object"}`), RetryCount: 3},
		Created:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateMessage(ctx, sess.ID, user))

	structured := json.RawMessage(`{"summary":"short"}`)
	assistant := loom.AssistantMessage{
		ID:         loom.NewMessageID(),
		SessionID:  sess.ID,
		ParentID:   user.ID,
		ProviderID: "anthropic",
		ModelID:    "claude-sonnet-4-20250514",
		Parts:      []loom.Part{loom.TextPart{ID: loom.NewPartID(), Text: "done"}},
		Cost:       0.0125,
		Tokens:     loom.Tokens{Input: 800, Output: 90, Cache: loom.CacheTokens{Read: 200, Write: 40}},
		Structured: structured,
		StopReason: loom.StopEndTurn,
		Created:    time.Now().UTC(),
		Completed:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateMessage(ctx, sess.ID, assistant))

	got, err := s.GetMessages(ctx, sess.ID, loom.ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	gu, ok := got[0].(loom.UserMessage)
	require.True(t, ok)
	assert.Equal(t, user.ID, gu.ID)
	require.Len(t, gu.Parts, 3)
	fp, ok := gu.Parts[1].(loom.FilePart)
	require.True(t, ok)
	assert.Equal(t, "notes.md", fp.Filename)
	src, ok := fp.Source.(loom.TextSource)
	require.True(t, ok)
	assert.Equal(t, "@notes.md", src.Value)
	ip, ok := gu.Parts[2].(loom.ImagePart)
	require.True(t, ok)
	assert.Equal(t, "aGVsbG8=", ip.Data, "base64 payload stored as-is")
	assert.Equal(t, "image/png", ip.Mime)
	f, ok := gu.Format.(loom.JSONSchemaFormat)
	require.True(t, ok)
	assert.Equal(t, 3, f.RetryCount)

	ga, ok := got[1].(loom.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, assistant.Tokens, ga.Tokens)
	assert.InDelta(t, assistant.Cost, ga.Cost, 1e-12)
	assert.JSONEq(t, string(structured), string(ga.Structured))
	assert.Equal(t, loom.StopEndTurn, ga.StopReason)
}

func TestStore_ErrorPersisted(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	sess := createSession(t, s)
	ctx := context.Background()

	msg := loom.AssistantMessage{
		ID:        loom.NewMessageID(),
		SessionID: sess.ID,
		Error: &loom.MessageError{
			Kind:    loom.ErrorKindStructuredOutput,
			Message: "schema not satisfied",
			Retries: 2,
		},
		Created: time.Now().UTC(),
	}
	require.NoError(t, s.CreateMessage(ctx, sess.ID, msg))

	got, err := s.GetMessages(ctx, sess.ID, loom.ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	ga := got[0].(loom.AssistantMessage)
	require.NotNil(t, ga.Error)
	assert.Equal(t, loom.ErrorKindStructuredOutput, ga.Error.Kind)
	assert.Equal(t, 2, ga.Error.Retries)
	assert.Nil(t, ga.Structured, "structured is unset on failed capture")
}

func TestStore_Revert(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	sess := createSession(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetRevert(ctx, sess.ID, loom.Revert{MessageID: "msg_a", Snapshot: "tree"}))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Revert)
	assert.Equal(t, "msg_a", got.Revert.MessageID)

	require.NoError(t, s.ClearRevert(ctx, sess.ID))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Revert)
}

func TestStore_AtomicWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := jsonstore.New(dir, nil)
	require.NoError(t, err)
	sess := createSession(t, s)

	require.NoError(t, s.CreateMessage(context.Background(), sess.ID, loom.UserMessage{
		ID:        loom.NewMessageID(),
		SessionID: sess.ID,
		Created:   time.Now().UTC(),
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, ".tmp", filepath.Ext(e.Name()), "temp files must not survive a commit")
	}
}

func TestStore_SessionNotFound(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.GetSession(context.Background(), "ses_missing")
	assert.ErrorIs(t, err, loom.ErrSessionNotFound)
}

func TestStore_Filters(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	sess := createSession(t, s)
	ctx := context.Background()

	u1 := loom.UserMessage{ID: loom.NewMessageID(), SessionID: sess.ID,
		Parts: []loom.Part{loom.TextPart{ID: loom.NewPartID(), Text: "first topic"}}, Created: time.Now().UTC()}
	a1 := loom.AssistantMessage{ID: loom.NewMessageID(), SessionID: sess.ID, ParentID: u1.ID, Created: time.Now().UTC()}
	u2 := loom.UserMessage{ID: loom.NewMessageID(), SessionID: sess.ID,
		Parts: []loom.Part{loom.TextPart{ID: loom.NewPartID(), Text: "second topic"}}, Created: time.Now().UTC()}
	for _, m := range []loom.Message{u1, a1, u2} {
		require.NoError(t, s.CreateMessage(ctx, sess.ID, m))
	}

	roots, err := s.GetMessages(ctx, sess.ID, loom.ListFilter{Roots: true})
	require.NoError(t, err)
	assert.Len(t, roots, 2)

	after, err := s.GetMessages(ctx, sess.ID, loom.ListFilter{Start: a1.ID})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, u2.ID, loom.MessageID(after[0]))

	found, err := s.GetMessages(ctx, sess.ID, loom.ListFilter{Search: "second"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, u2.ID, loom.MessageID(found[0]))
}
