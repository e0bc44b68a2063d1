package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mbaranowski/loom"
)

// stream implements [loom.Stream] by parsing SSE events from an HTTP
// response body.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	ctx     context.Context
	state   loom.StreamState
	reply   loom.Reply
	blocks  map[int]*blockState
	err     error // terminal error, if any
}

// blockState tracks the state of a content block being assembled.
type blockState struct {
	blockType string
	toolID    string
	toolName  string
	inputBuf  strings.Builder
}

// Interface compliance check.
var _ loom.Stream = (*stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	return &stream{
		body:    body,
		scanner: bufio.NewScanner(body),
		ctx:     ctx,
		state:   loom.StreamStateNew,
		blocks:  make(map[int]*blockState),
	}
}

// Next reads the next semantic event from the SSE stream.
// Returns io.EOF when the stream completes normally.
func (s *stream) Next() (loom.Event, error) {
	switch s.state {
	case loom.StreamStateComplete:
		return nil, io.EOF
	case loom.StreamStateError:
		return nil, s.err
	case loom.StreamStateClosed:
		return nil, loom.ErrStreamClosed
	}

	for {
		eventType, data, err := s.readSSEEvent()
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}

		s.state = loom.StreamStateStreaming

		evt, err := s.processEvent(eventType, data)
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}

		// processEvent may set a terminal state (message_stop).
		if s.state == loom.StreamStateComplete {
			if evt != nil {
				return evt, nil
			}
			return nil, io.EOF
		}

		if evt != nil {
			return evt, nil
		}
		// Non-semantic event (ping, message_start, etc.) - keep reading.
	}
}

// State returns the current stream state.
func (s *stream) State() loom.StreamState {
	return s.state
}

// Reply returns the assembled reply, partial if the stream has not
// completed.
func (s *stream) Reply() (loom.Reply, error) {
	if s.state == loom.StreamStateNew {
		return loom.Reply{}, loom.ErrStreamNotReady
	}
	return s.reply, nil
}

// Close closes the underlying HTTP response body.
func (s *stream) Close() error {
	if s.state != loom.StreamStateComplete && s.state != loom.StreamStateError {
		s.state = loom.StreamStateClosed
		s.reply.StopReason = loom.StopAborted
		s.reply.RawStopReason = "aborted"
	}
	return s.body.Close()
}

// terminate records a terminal error and sets the appropriate state and stop
// reason.
func (s *stream) terminate(err error) {
	s.state = loom.StreamStateError
	if err == io.EOF {
		// message_stop sets StreamStateComplete before raw EOF can be
		// observed; a raw EOF means the stream ended mid-message.
		s.err = fmt.Errorf("anthropic: unexpected end of stream")
		s.reply.StopReason = loom.StopError
		s.reply.RawStopReason = "error"
		return
	}
	s.err = err
	if s.ctx.Err() != nil {
		s.reply.StopReason = loom.StopAborted
		s.reply.RawStopReason = "aborted"
	} else {
		s.reply.StopReason = loom.StopError
		s.reply.RawStopReason = "error"
	}
}

// readSSEEvent reads lines until a complete SSE event is assembled.
// Returns the event type and the data payload.
func (s *stream) readSSEEvent() (string, string, error) {
	var eventType string
	var dataBuf strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			// Empty line signals end of event.
			if dataBuf.Len() > 0 {
				return eventType, dataBuf.String(), nil
			}
			// Empty event, keep reading.
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
		}
		// Ignore comments (lines starting with ':') and unknown fields.
	}

	if err := s.scanner.Err(); err != nil {
		return "", "", fmt.Errorf("anthropic: %w", err)
	}

	// Scanner exhausted without error = EOF.
	if dataBuf.Len() > 0 {
		return eventType, dataBuf.String(), nil
	}
	return "", "", io.EOF
}

// processEvent maps an SSE event to a semantic loom.Event.
// Returns nil event for non-semantic events (ping, message_start, etc.).
func (s *stream) processEvent(eventType, data string) (loom.Event, error) {
	switch eventType {
	case "message_start":
		return nil, s.handleMessageStart(data)
	case "content_block_start":
		return s.handleContentBlockStart(data)
	case "content_block_delta":
		return s.handleContentBlockDelta(data)
	case "content_block_stop":
		return s.handleContentBlockStop(data)
	case "message_delta":
		return s.handleMessageDelta(data)
	case "message_stop":
		s.state = loom.StreamStateComplete
		return nil, nil
	case "ping":
		return nil, nil
	case "error":
		return nil, s.handleError(data)
	default:
		// Unknown event types are ignored.
		return nil, nil
	}
}

func (s *stream) handleMessageStart(data string) error {
	var evt messageStartEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return fmt.Errorf("anthropic: failed to parse message_start: %w", err)
	}
	u := evt.Message.Usage
	s.reply.Usage.InputTokens = u.InputTokens
	s.reply.Usage.OutputTokens = u.OutputTokens
	s.mergeCacheUsage(u.CacheCreationInputTokens, u.CacheReadInputTokens)
	return nil
}

// mergeCacheUsage records cache figures on the anthropic metadata; input
// tokens stay exclusive of cache reads per the API, which the normalizer's
// family rules account for.
func (s *stream) mergeCacheUsage(creation, read *int) {
	if creation == nil && read == nil {
		return
	}
	if s.reply.Metadata.Anthropic == nil {
		s.reply.Metadata.Anthropic = &loom.AnthropicUsage{}
	}
	if creation != nil {
		s.reply.Metadata.Anthropic.CacheCreationInputTokens = *creation
	}
	if read != nil {
		s.reply.Metadata.Anthropic.CacheReadInputTokens = *read
	}
}

func (s *stream) handleContentBlockStart(data string) (loom.Event, error) {
	var evt blockStartEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse content_block_start: %w", err)
	}

	bs := &blockState{blockType: evt.ContentBlock.Type}
	s.blocks[evt.Index] = bs

	if evt.ContentBlock.Type == "tool_use" {
		bs.toolID = evt.ContentBlock.ID
		bs.toolName = evt.ContentBlock.Name
		return loom.EventToolCallBegin{ID: bs.toolID, Name: bs.toolName}, nil
	}
	return nil, nil
}

func (s *stream) handleContentBlockDelta(data string) (loom.Event, error) {
	var evt blockDeltaEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse content_block_delta: %w", err)
	}

	bs := s.blocks[evt.Index]
	if bs == nil {
		return nil, fmt.Errorf("anthropic: delta for unknown block index %d", evt.Index)
	}

	switch evt.Delta.Type {
	case "text_delta":
		s.reply.Text += evt.Delta.Text
		return loom.EventTextDelta{Delta: evt.Delta.Text}, nil
	case "input_json_delta":
		bs.inputBuf.WriteString(evt.Delta.PartialJSON)
		return loom.EventToolCallDelta{ID: bs.toolID, Delta: evt.Delta.PartialJSON}, nil
	case "thinking_delta":
		s.reply.Reasoning += evt.Delta.Thinking
		return loom.EventReasoningDelta{Delta: evt.Delta.Thinking}, nil
	case "signature_delta":
		// Internal use only; not exposed as a semantic event.
		return nil, nil
	default:
		return nil, nil
	}
}

func (s *stream) handleContentBlockStop(data string) (loom.Event, error) {
	var evt blockStopEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse content_block_stop: %w", err)
	}

	bs := s.blocks[evt.Index]
	if bs == nil {
		return nil, fmt.Errorf("anthropic: stop for unknown block index %d", evt.Index)
	}

	if bs.blockType == "tool_use" {
		raw := bs.inputBuf.String()
		if raw == "" {
			raw = "{}"
		}
		call := loom.ToolCall{
			ID:        bs.toolID,
			Name:      bs.toolName,
			Arguments: json.RawMessage(raw),
		}
		s.reply.ToolCalls = append(s.reply.ToolCalls, call)
		return loom.EventToolCallEnd{Call: call}, nil
	}
	return nil, nil
}

// handleMessageDelta records the final usage report and stop reason and
// surfaces them as an EventUsage.
func (s *stream) handleMessageDelta(data string) (loom.Event, error) {
	var evt messageDeltaEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse message_delta: %w", err)
	}

	s.reply.Usage.OutputTokens = evt.Usage.OutputTokens
	if evt.Usage.InputTokens != nil {
		s.reply.Usage.InputTokens = *evt.Usage.InputTokens
	}
	s.mergeCacheUsage(evt.Usage.CacheCreationInputTokens, evt.Usage.CacheReadInputTokens)

	if evt.Delta.StopReason != nil {
		s.reply.RawStopReason = *evt.Delta.StopReason
		s.reply.StopReason = mapStopReason(*evt.Delta.StopReason)
	}

	return loom.EventUsage{Usage: s.reply.Usage, Metadata: s.reply.Metadata}, nil
}

func (s *stream) handleError(data string) error {
	var evt errorEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return fmt.Errorf("anthropic: failed to parse error event: %w", err)
	}
	switch evt.Error.Type {
	case "authentication_error", "permission_error":
		return &loom.AuthError{Message: evt.Error.Message}
	case "overloaded_error":
		return fmt.Errorf("anthropic: overloaded: %s", evt.Error.Message)
	}
	return fmt.Errorf("anthropic: %s: %s", evt.Error.Type, evt.Error.Message)
}

func mapStopReason(raw string) loom.StopReason {
	switch raw {
	case "end_turn":
		return loom.StopEndTurn
	case "max_tokens":
		return loom.StopLength
	case "tool_use":
		return loom.StopToolUse
	default:
		return loom.StopUnknown
	}
}
