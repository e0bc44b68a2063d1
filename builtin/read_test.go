package builtin_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/builtin"
)

func TestReadTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bee\n"), 0o644))
	tool := builtin.NewReadTool(dir)

	exec := func(t *testing.T, args string) *loom.ToolResult {
		t.Helper()
		res, err := tool.Execute(ctx, json.RawMessage(args), loom.ToolContext{})
		require.NoError(t, err)
		return res
	}

	t.Run("whole file", func(t *testing.T) {
		t.Parallel()
		res := exec(t, `{"path":"a.txt"}`)
		require.False(t, res.IsError)
		assert.Equal(t, "one\ntwo\nthree\n", res.Output)
	})

	t.Run("line range", func(t *testing.T) {
		t.Parallel()
		res := exec(t, `{"path":"a.txt","start_line":2,"end_line":3}`)
		require.False(t, res.IsError)
		assert.Equal(t, "two\nthree", res.Output)
	})

	t.Run("start line only reads one line", func(t *testing.T) {
		t.Parallel()
		res := exec(t, `{"path":"a.txt","start_line":2}`)
		require.False(t, res.IsError)
		assert.Equal(t, "two", res.Output)
	})

	t.Run("glob returns headed sections", func(t *testing.T) {
		t.Parallel()
		res := exec(t, `{"path":"*.txt"}`)
		require.False(t, res.IsError)
		assert.Contains(t, res.Output, "a.txt <==")
		assert.Contains(t, res.Output, "b.txt <==")
		assert.Contains(t, res.Output, "bee")
	})

	t.Run("missing file is a domain error", func(t *testing.T) {
		t.Parallel()
		res := exec(t, `{"path":"nope.txt"}`)
		assert.True(t, res.IsError)
	})
}
