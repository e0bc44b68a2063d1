package shell

import (
	"bytes"
	"os"
	"sync"
)

// Capture is an io.Writer that keeps the tail of a command's output in
// memory and spills the complete output to a temp file once it grows past
// spillAt bytes. The tail buffer covers at least spillAt bytes so the spill
// file starts with everything written so far.
//
// Safe for concurrent use. Writes after Close are dropped.
type Capture struct {
	mu       sync.Mutex
	spillAt  int64
	tailMax  int
	tail     []byte
	size     int64
	newlines int
	atBOL    bool // next byte starts a new line
	spill    *os.File
	path     string
	spillErr error
	closed   bool
}

// NewCapture creates a capture that spills to disk past spillAt bytes and
// retains the last tailMax bytes in memory. A tailMax below spillAt is
// raised to it.
func NewCapture(spillAt int64, tailMax int) *Capture {
	if int64(tailMax) < spillAt {
		tailMax = int(spillAt)
	}
	return &Capture{spillAt: spillAt, tailMax: tailMax, atBOL: true}
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return len(p), nil
	}

	c.size += int64(len(p))
	c.newlines += bytes.Count(p, []byte{'\n'})
	if len(p) > 0 {
		c.atBOL = p[len(p)-1] == '\n'
	}
	c.tail = append(c.tail, p...)

	switch {
	case c.spill == nil && c.spillErr == nil && c.size > c.spillAt:
		c.openSpill()
	case c.spill != nil && c.spillErr == nil:
		if _, err := c.spill.Write(p); err != nil {
			c.spillErr = err
		}
	}

	if len(c.tail) > c.tailMax {
		keep := make([]byte, c.tailMax)
		copy(keep, c.tail[len(c.tail)-c.tailMax:])
		c.tail = keep
	}
	return len(p), nil
}

// openSpill creates the temp file and seeds it with the tail, which at this
// point still holds everything written.
func (c *Capture) openSpill() {
	f, err := os.CreateTemp("", "loom-shell-*.log")
	if err != nil {
		c.spillErr = err
		return
	}
	c.spill = f
	c.path = f.Name()
	if _, err := f.Write(c.tail); err != nil {
		c.spillErr = err
	}
}

// Tail returns a copy of the in-memory tail.
func (c *Capture) Tail() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.tail...)
}

// Size reports the total bytes written, including any the tail dropped.
func (c *Capture) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Lines reports the total line count. A final line without a trailing
// newline still counts.
func (c *Capture) Lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.newlines
	if c.size > 0 && !c.atBOL {
		n++
	}
	return n
}

// SpillPath returns the temp file path, or empty when nothing spilled.
func (c *Capture) SpillPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// SpillErr reports the first error hit while writing the spill file.
func (c *Capture) SpillErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spillErr
}

// Close closes the spill file if one was opened. Subsequent writes are
// dropped.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.spill == nil {
		return nil
	}
	err := c.spill.Close()
	c.spill = nil
	return err
}
