// Package fs resolves file-backed attachment sources: expanding glob
// patterns, reading files, and selecting line ranges.
package fs

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mbaranowski/loom"
)

// File is one resolved attachment source.
type File struct {
	Path    string
	Content string
}

// Resolve expands src against dir and reads each matching file. Relative
// paths resolve under dir; a pattern that matches nothing is an error so the
// caller can surface it instead of silently attaching nothing.
func Resolve(dir string, src loom.PathSource) ([]File, error) {
	if src.Path == "" {
		return nil, fmt.Errorf("empty path")
	}

	paths, err := Expand(dir, src.Path)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files match %s", src.Path)
	}
	if src.Range != nil && len(paths) > 1 {
		return nil, fmt.Errorf("line range with %d matches for %s", len(paths), src.Path)
	}

	files := make([]File, 0, len(paths))
	for _, path := range paths {
		content, err := ReadRange(path, src.Range)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: path, Content: content})
	}
	return files, nil
}

// Expand returns the files matching pattern. Patterns without glob
// metacharacters resolve as plain paths. Results are directory-free and
// absolute.
func Expand(dir, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}

	if !hasGlobMeta(pattern) {
		info, err := os.Stat(pattern)
		if err != nil {
			return nil, fmt.Errorf("access %s: %w", pattern, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", pattern)
		}
		return []string{pattern}, nil
	}

	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return nil, fmt.Errorf("invalid glob pattern %s", pattern)
	}

	base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
	fsys := os.DirFS(base)
	var matches []string
	err := doublestar.GlobWalk(fsys, rest, func(path string, d iofs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		matches = append(matches, filepath.Join(base, filepath.FromSlash(path)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", pattern, err)
	}
	return matches, nil
}

// ReadRange reads a file, optionally restricted to a 1-based inclusive line
// range. An out-of-bounds range is clamped to the file; a range entirely past
// the end is an error.
func ReadRange(path string, r *loom.LineRange) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if r == nil {
		return string(data), nil
	}
	if r.Start < 1 || r.End < r.Start {
		return "", fmt.Errorf("invalid line range %d-%d", r.Start, r.End)
	}

	lines := strings.Split(string(data), "\n")
	// Trailing newline produces one empty phantom line; drop it.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if r.Start > len(lines) {
		return "", fmt.Errorf("line range %d-%d past end of %s (%d lines)", r.Start, r.End, path, len(lines))
	}
	end := r.End
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[r.Start-1:end], "\n"), nil
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
