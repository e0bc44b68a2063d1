package mock

import (
	"io"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.Stream = (*Stream)(nil)

// Stream is a test double for loom.Stream.
// Set the function fields for the methods you need. NextFn and ReplyFn panic
// when nil to catch missing setup. CloseFn and StateFn are nil-safe (no-op
// and zero value) because test code commonly calls defer stream.Close() and
// these methods rarely need custom behavior.
type Stream struct {
	NextFn  func() (loom.Event, error)
	StateFn func() loom.StreamState
	ReplyFn func() (loom.Reply, error)
	CloseFn func() error
}

// Next delegates to NextFn.
func (s *Stream) Next() (loom.Event, error) {
	return s.NextFn()
}

// State delegates to StateFn. Returns StreamStateNew when StateFn is nil.
func (s *Stream) State() loom.StreamState {
	if s.StateFn == nil {
		return loom.StreamStateNew
	}
	return s.StateFn()
}

// Reply delegates to ReplyFn.
func (s *Stream) Reply() (loom.Reply, error) {
	return s.ReplyFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Stream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// Completed returns a Stream that immediately signals completion and returns
// the given assembled reply.
func Completed(reply loom.Reply) *Stream {
	return &Stream{
		NextFn: func() (loom.Event, error) {
			return nil, io.EOF
		},
		StateFn: func() loom.StreamState {
			return loom.StreamStateComplete
		},
		ReplyFn: func() (loom.Reply, error) {
			return reply, nil
		},
	}
}

// Scripted returns a Stream that yields the given events in order, then EOF,
// then the assembled reply.
func Scripted(events []loom.Event, reply loom.Reply) *Stream {
	i := 0
	return &Stream{
		NextFn: func() (loom.Event, error) {
			if i >= len(events) {
				return nil, io.EOF
			}
			evt := events[i]
			i++
			return evt, nil
		},
		StateFn: func() loom.StreamState {
			if i >= len(events) {
				return loom.StreamStateComplete
			}
			return loom.StreamStateStreaming
		},
		ReplyFn: func() (loom.Reply, error) {
			return reply, nil
		},
	}
}
