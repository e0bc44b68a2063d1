package loom

// StreamState indicates the current state of a Stream.
type StreamState int

const (
	StreamStateNew       StreamState = iota // Before Next() is ever called.
	StreamStateStreaming                    // Mid-stream, receiving deltas.
	StreamStateComplete                     // Next() returned io.EOF.
	StreamStateError                        // Next() returned non-EOF error.
	StreamStateClosed                       // Close() called before terminal state.
)

// Stream uses a pull-based iterator pattern. Cancellation flows through the
// context passed to Provider.Stream().
//
// State() returns the current StreamState. Callers can use it to determine
// whether Reply() will return a partial or complete reply.
//
// Reply() returns the assembled provider reply. Behavior by stream state:
//   - StreamStateComplete: complete reply, nil error.
//   - StreamStateError: partial reply, nil error. StopReason is StopError
//     for transport/protocol failures, StopAborted for context cancellation.
//   - StreamStateStreaming: partial reply, nil error. Content reflects
//     deltas received so far.
//   - StreamStateNew: zero-value reply, non-nil error.
//   - StreamStateClosed: partial reply with StopReason = StopAborted.
//     Subsequent Next() calls return error.
//   - If a terminal state (Complete/Error) was reached before Close(),
//     Reply() returns the terminal-state result.
type Stream interface {
	Next() (Event, error)
	State() StreamState
	Reply() (Reply, error)
	Close() error
}

// Reply is the assembled provider response for one streaming pass. It is a
// provider-level artifact: the turn runner converts it into parts on the
// assistant message and normalizes Usage at finalization.
type Reply struct {
	Text          string
	Reasoning     string
	ToolCalls     []ToolCall
	Usage         RawUsage
	Metadata      ProviderMetadata
	StopReason    StopReason
	RawStopReason string
}
