package shell

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

const (
	DefaultMaxLines = 2000
	DefaultMaxBytes = 50 * 1024 // 50KB
)

// Sanitize normalizes raw terminal output for the model: ANSI escape
// sequences are stripped, control bytes other than tab and newline dropped,
// and carriage-return overwrites resolved the way a terminal renders them.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	// CRLF first, so the \r in \r\n never reads as an overwrite.
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' || r > 0x1f {
			return r
		}
		return -1
	}, s)

	if !strings.ContainsRune(s, '\r') {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.ContainsRune(line, '\r') {
			lines[i] = overprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

// overprint resolves carriage returns within one line. Column j shows the
// character from the last segment long enough to reach it, so the result is
// the final segment extended by the tails of earlier, longer segments.
func overprint(line string) string {
	segs := strings.Split(line, "\r")
	out := []rune(segs[len(segs)-1])
	for i := len(segs) - 2; i >= 0; i-- {
		seg := []rune(segs[i])
		if len(seg) > len(out) {
			out = append(out, seg[len(out):]...)
		}
	}
	return string(out)
}

// TruncateResult reports what TruncateTail kept.
type TruncateResult struct {
	Content     string
	Truncated   bool
	TotalLines  int
	OutputLines int
}

// TruncateTail keeps the last maxLines lines of s, then drops further lines
// from the front until the result fits in maxBytes. When a single line is
// larger than the whole byte budget, the tail of that line is returned
// without its newline.
func TruncateTail(s string, maxLines, maxBytes int) TruncateResult {
	if s == "" {
		return TruncateResult{}
	}

	terminated := strings.HasSuffix(s, "\n")
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	total := len(lines)

	keep := lines
	if len(keep) > maxLines {
		keep = keep[len(keep)-maxLines:]
	}
	size := rendered(keep, terminated)
	for size > maxBytes && len(keep) > 1 {
		size -= len(keep[0]) + 1
		keep = keep[1:]
	}
	if size > maxBytes {
		tail := keep[0]
		if len(tail) > maxBytes {
			tail = tail[len(tail)-maxBytes:]
		}
		return TruncateResult{
			Content:     tail,
			Truncated:   true,
			TotalLines:  total,
			OutputLines: 1,
		}
	}

	content := strings.Join(keep, "\n")
	if terminated {
		content += "\n"
	}
	return TruncateResult{
		Content:     content,
		Truncated:   len(keep) < total,
		TotalLines:  total,
		OutputLines: len(keep),
	}
}

// rendered is the byte size of lines joined by newlines, including the
// trailing newline when the original output had one.
func rendered(lines []string, terminated bool) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	if !terminated {
		n--
	}
	return n
}
