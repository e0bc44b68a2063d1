package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/fs"
)

// Compile-time interface check.
var _ loom.Tool = (*ReadTool)(nil)

// ReadTool reads files from the session directory. The path may be a glob;
// a line range restricts output to part of a single file.
type ReadTool struct {
	dir string
}

// NewReadTool creates a read tool rooted at dir. Relative paths resolve
// under dir.
func NewReadTool(dir string) *ReadTool {
	return &ReadTool{dir: dir}
}

func (t *ReadTool) ID() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file. Supports glob patterns (e.g. **/*.go) and an optional 1-based inclusive line range for a single file."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "File path or glob pattern, relative to the session directory"
			},
			"start_line": {
				"type": "integer",
				"description": "First line to include, 1-based"
			},
			"end_line": {
				"type": "integer",
				"description": "Last line to include, inclusive"
			}
		},
		"required": ["path"]
	}`)
}

type readArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *ReadTool) Execute(_ context.Context, args json.RawMessage, _ loom.ToolContext) (*loom.ToolResult, error) {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult(fmt.Sprintf("invalid arguments: %s", err)), nil
	}

	src := loom.PathSource{Path: a.Path}
	if a.StartLine > 0 {
		end := a.EndLine
		if end == 0 {
			end = a.StartLine
		}
		src.Range = &loom.LineRange{Start: a.StartLine, End: end}
	}

	files, err := fs.Resolve(t.dir, src)
	if err != nil {
		return errResult(err.Error()), nil
	}

	if len(files) == 1 {
		return textResult(files[0].Content), nil
	}
	var out string
	for _, f := range files {
		out += fmt.Sprintf("==> %s <==\n%s\n", f.Path, f.Content)
	}
	return textResult(out), nil
}
