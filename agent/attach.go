package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/fs"
)

// resolveAttachments expands file-backed parts into their content. Each
// submitted part resolves concurrently, but results commit in original
// submission order regardless of completion timing. A file that cannot be
// read becomes a synthetic failure-note part in place; resolution failures
// never abort the turn.
func (r *Runner) resolveAttachments(ctx context.Context, dir string, parts []loom.Part) []loom.Part {
	results := make([][]loom.Part, len(parts))
	var wg sync.WaitGroup
	for i, p := range parts {
		wg.Add(1)
		go func(i int, p loom.Part) {
			defer wg.Done()
			results[i] = r.resolvePart(ctx, dir, p)
		}(i, p)
	}
	wg.Wait()

	var out []loom.Part
	for _, rs := range results {
		out = append(out, rs...)
	}
	return out
}

// resolvePart resolves one submitted part. File parts with a path source
// expand to a synthetic read note followed by the file content (or a
// failure note). Everything else passes through unchanged.
func (r *Runner) resolvePart(ctx context.Context, dir string, p loom.Part) []loom.Part {
	fp, ok := p.(loom.FilePart)
	if !ok {
		return []loom.Part{p}
	}
	src, ok := fp.Source.(loom.PathSource)
	if !ok {
		return []loom.Part{p}
	}

	note := loom.TextPart{
		Text:      fmt.Sprintf("Called the read tool with the following input: {\"path\":%q}", src.Path),
		Synthetic: true,
	}

	files, err := fs.Resolve(dir, src)
	if err != nil {
		r.log.WarnContext(ctx, "attachment resolution failed", "path", src.Path, "error", err)
		return []loom.Part{note, loom.TextPart{
			Text:      fmt.Sprintf("The file %q could not be read: %s", src.Path, err),
			Synthetic: true,
		}}
	}

	out := []loom.Part{note}
	for _, f := range files {
		out = append(out, loom.TextPart{
			Text:      fmt.Sprintf("<file path=%q>\n%s\n</file>", f.Path, f.Content),
			Synthetic: true,
		})
	}
	return out
}

// withPartID returns the part with its ID set. IDs are assigned in commit
// order so part ID order matches part order.
func withPartID(p loom.Part, id string) loom.Part {
	switch v := p.(type) {
	case loom.TextPart:
		v.ID = id
		return v
	case loom.FilePart:
		v.ID = id
		return v
	case loom.ImagePart:
		v.ID = id
		return v
	case loom.AgentPart:
		v.ID = id
		return v
	default:
		return p
	}
}
