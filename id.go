package loom

import (
	"fmt"
	"sync"
	"time"
)

// IDs are fixed-width hex: a millisecond timestamp followed by a
// process-local counter, so they sort lexicographically in creation order.
// Creation order is the ordering authority for messages and parts;
// wall-clock time alone can tie under concurrent writers, and a clock that
// steps backwards must not reorder the sequence.
var idState struct {
	mu      sync.Mutex
	lastMS  int64
	counter int64
}

func newID(prefix string) string {
	now := time.Now().UnixMilli()
	idState.mu.Lock()
	if now <= idState.lastMS {
		idState.counter++
	} else {
		idState.lastMS = now
		idState.counter = 0
	}
	ms, c := idState.lastMS, idState.counter
	idState.mu.Unlock()
	return fmt.Sprintf("%s_%012x%06x", prefix, ms, c)
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string { return newID("ses") }

// NewMessageID returns a fresh message identifier. IDs ascend strictly in
// allocation order within a process.
func NewMessageID() string { return newID("msg") }

// NewPartID returns a fresh part identifier.
func NewPartID() string { return newID("prt") }

// NewCallID returns a fresh tool-call identifier.
func NewCallID() string { return newID("cal") }
