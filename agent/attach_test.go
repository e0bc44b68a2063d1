package agent_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/agent"
	"github.com/mbaranowski/loom/memstore"
	"github.com/mbaranowski/loom/mock"
)

func runPrompt(t *testing.T, dir string, parts []loom.Part) []loom.Part {
	t.Helper()
	ctx := context.Background()
	store := memstore.New(nil)
	sess := newSession(t, store, dir)

	provider := &mock.Provider{
		Caps: anthropicCaps(),
		StreamFn: func(context.Context, loom.Request) (loom.Stream, error) {
			return mock.Completed(loom.Reply{Text: "ok", StopReason: loom.StopEndTurn}), nil
		},
	}
	r := agent.New(store, providers(provider), nil)

	p := textPrompt(sess.ID, "")
	p.Parts = parts
	_, err := r.Run(ctx, p)
	require.NoError(t, err)

	msgs, err := store.GetMessages(ctx, sess.ID, loom.ListFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	return msgs[0].(loom.UserMessage).Parts
}

func TestAttachmentOrderWithMissingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// A missing file plus trailing text must always land as
	// [read note, failure note, trailing text], regardless of which
	// submitted part resolves first.
	for i := 0; i < 10; i++ {
		parts := runPrompt(t, dir, []loom.Part{
			loom.FilePart{Source: loom.PathSource{Path: "missing.txt"}},
			loom.TextPart{Text: "after the file"},
		})

		require.Len(t, parts, 3)
		note := parts[0].(loom.TextPart)
		assert.True(t, note.Synthetic)
		assert.Contains(t, note.Text, "missing.txt")

		failure := parts[1].(loom.TextPart)
		assert.True(t, failure.Synthetic)
		assert.Contains(t, failure.Text, "could not be read")

		after := parts[2].(loom.TextPart)
		assert.False(t, after.Synthetic)
		assert.Equal(t, "after the file", after.Text)
	}
}

func TestAttachmentResolutionReadsFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("line one\nline two\n"), 0o644))

	parts := runPrompt(t, dir, []loom.Part{
		loom.FilePart{Source: loom.PathSource{
			Path:  "notes.txt",
			Range: &loom.LineRange{Start: 2, End: 2},
		}},
	})

	require.Len(t, parts, 2)
	content := parts[1].(loom.TextPart)
	assert.True(t, content.Synthetic)
	assert.Contains(t, content.Text, "line two")
	assert.NotContains(t, content.Text, "line one")
}

func TestAttachmentPartIDsAscendWithOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha\n"), 0o644))

	parts := runPrompt(t, dir, []loom.Part{
		loom.TextPart{Text: "before"},
		loom.FilePart{Source: loom.PathSource{Path: "a.txt"}},
		loom.TextPart{Text: "after"},
	})
	require.Len(t, parts, 4)

	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = loom.PartID(p)
		require.NotEmpty(t, ids[i])
	}
	assert.True(t, sort.StringsAreSorted(ids), "part IDs must ascend in part order: %v", ids)
}

func TestAttachmentNonFilePartsPassThrough(t *testing.T) {
	t.Parallel()

	parts := runPrompt(t, t.TempDir(), []loom.Part{
		loom.ImagePart{Data: "aGk=", Mime: "image/png"},
		loom.AgentPart{Name: "reviewer"},
	})
	require.Len(t, parts, 2)
	assert.IsType(t, loom.ImagePart{}, parts[0])
	assert.IsType(t, loom.AgentPart{}, parts[1])
}
