package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/mbaranowski/loom"
)

// stream implements [loom.Stream] by wrapping the genai SDK's streaming
// iterator. Gemini delivers tool calls whole rather than as argument deltas,
// so each function call surfaces as a begin/end event pair with no deltas in
// between.
type stream struct {
	pull    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	ctx     context.Context
	state   loom.StreamState
	reply   loom.Reply
	pending []loom.Event
	err     error
}

// Interface compliance check.
var _ loom.Stream = (*stream)(nil)

// NewStreamFromIter wraps a genai streaming iterator in a [loom.Stream].
// Exported for testing with scripted chunk sequences.
func NewStreamFromIter(ctx context.Context, iterFn iter.Seq2[*genai.GenerateContentResponse, error]) loom.Stream {
	next, stop := iter.Pull2(iterFn)
	return &stream{
		pull:  next,
		stop:  stop,
		ctx:   ctx,
		state: loom.StreamStateNew,
	}
}

// Next returns the next semantic event.
// Returns io.EOF when the stream completes normally.
func (s *stream) Next() (loom.Event, error) {
	switch s.state {
	case loom.StreamStateComplete:
		if len(s.pending) > 0 {
			return s.popPending(), nil
		}
		return nil, io.EOF
	case loom.StreamStateError:
		return nil, s.err
	case loom.StreamStateClosed:
		return nil, loom.ErrStreamClosed
	}

	for {
		if len(s.pending) > 0 {
			return s.popPending(), nil
		}

		resp, err, ok := s.pull()
		if !ok {
			s.state = loom.StreamStateComplete
			if s.reply.StopReason == "" {
				s.reply.StopReason = loom.StopUnknown
				s.reply.RawStopReason = ""
			}
			return nil, io.EOF
		}
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}

		s.state = loom.StreamStateStreaming
		s.processChunk(resp)
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

// Close stops the underlying iterator.
func (s *stream) Close() error {
	if s.state != loom.StreamStateComplete && s.state != loom.StreamStateError {
		s.state = loom.StreamStateClosed
		s.reply.StopReason = loom.StopAborted
		s.reply.RawStopReason = "aborted"
	}
	s.stop()
	return nil
}

func (s *stream) popPending() loom.Event {
	evt := s.pending[0]
	s.pending = s.pending[1:]
	return evt
}

func (s *stream) terminate(err error) {
	s.state = loom.StreamStateError
	s.err = fmt.Errorf("gemini: %w", err)
	if s.ctx.Err() != nil {
		s.reply.StopReason = loom.StopAborted
		s.reply.RawStopReason = "aborted"
	} else {
		s.reply.StopReason = loom.StopError
		s.reply.RawStopReason = "error"
	}
}

// processChunk folds one response chunk into the reply and queues the
// semantic events it produces.
func (s *stream) processChunk(resp *genai.GenerateContentResponse) {
	if resp.UsageMetadata != nil {
		s.mergeUsage(resp.UsageMetadata)
	}

	if len(resp.Candidates) == 0 {
		return
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			s.processPart(part)
		}
	}

	if cand.FinishReason != "" {
		s.reply.RawStopReason = string(cand.FinishReason)
		s.reply.StopReason = s.mapFinishReason(cand.FinishReason)
		s.pending = append(s.pending, loom.EventUsage{
			Usage:    s.reply.Usage,
			Metadata: s.reply.Metadata,
		})
	}
}

func (s *stream) processPart(part *genai.Part) {
	switch {
	case part.FunctionCall != nil:
		fc := part.FunctionCall
		id := fc.ID
		if id == "" {
			// Gemini omits call IDs; mint one so tool results can refer
			// back to the call.
			id = loom.NewCallID()
		}
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = json.RawMessage(`{}`)
		}
		call := loom.ToolCall{ID: id, Name: fc.Name, Arguments: args}
		s.reply.ToolCalls = append(s.reply.ToolCalls, call)
		s.pending = append(s.pending,
			loom.EventToolCallBegin{ID: id, Name: fc.Name},
			loom.EventToolCallEnd{Call: call},
		)
	case part.Thought && part.Text != "":
		s.reply.Reasoning += part.Text
		s.pending = append(s.pending, loom.EventReasoningDelta{Delta: part.Text})
	case part.Text != "":
		s.reply.Text += part.Text
		s.pending = append(s.pending, loom.EventTextDelta{Delta: part.Text})
	}
}

// mergeUsage overwrites the usage report with the latest chunk's counters.
// Gemini reports cumulative totals, so the last chunk wins.
func (s *stream) mergeUsage(u *genai.GenerateContentResponseUsageMetadata) {
	s.reply.Usage.InputTokens = int(u.PromptTokenCount)
	s.reply.Usage.OutputTokens = int(u.CandidatesTokenCount)
	s.reply.Usage.ReasoningTokens = int(u.ThoughtsTokenCount)
	s.reply.Usage.TotalTokens = int(u.TotalTokenCount)
	if u.CachedContentTokenCount > 0 {
		cached := int(u.CachedContentTokenCount)
		s.reply.Usage.CachedInputTokens = &cached
	}
}

func (s *stream) mapFinishReason(reason genai.FinishReason) loom.StopReason {
	switch reason {
	case genai.FinishReasonStop:
		if len(s.reply.ToolCalls) > 0 {
			return loom.StopToolUse
		}
		return loom.StopEndTurn
	case genai.FinishReasonMaxTokens:
		return loom.StopLength
	default:
		return loom.StopUnknown
	}
}
