package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/builtin"
)

// stream drives the provider until a final response, executing requested
// tool calls between passes and enforcing the structured-output contract.
// It always persists an assistant message, even on failure; the causing
// error is also returned so callers can dispatch on it.
func (r *Runner) stream(ctx context.Context, provider loom.Provider, model loom.Model, sess loom.Session, p Prompt, userMsg loom.UserMessage, history []loom.Message, cfg *runConfig) (loom.AssistantMessage, error) {
	assistantID := loom.NewMessageID()
	created := time.Now()

	var (
		parts      []loom.Part
		usage      loom.RawUsage
		meta       loom.ProviderMetadata
		stop       = loom.StopUnknown
		rawStop    string
		structured json.RawMessage
		turnErr    error
	)

	exec, format, err := r.turnExecutor(p.Format, &structured)
	if err != nil {
		turnErr = err
	}

	convo := history
	var req loom.Request
	if turnErr == nil {
		req = loom.Request{
			Model:       p.ModelID,
			System:      p.System,
			Tools:       exec.Tools(),
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		}
		turnErr = req.Validate()
	}

	attempts := 0
passes:
	for turnErr == nil {
		if err := ctx.Err(); err != nil {
			turnErr = err
			break
		}

		req.Messages = convo
		reply, err := r.streamOnce(ctx, provider, req, cfg.onEvent)

		// Salvage whatever the partial reply carries before acting on err.
		if reply.Usage != (loom.RawUsage{}) {
			usage = reply.Usage
			meta = reply.Metadata
		}
		if reply.StopReason != "" {
			stop = reply.StopReason
			rawStop = reply.RawStopReason
		}
		if reply.Reasoning != "" {
			parts = append(parts, loom.TextPart{Text: reply.Reasoning, Ignored: true})
		}
		if reply.Text != "" {
			parts = append(parts, loom.TextPart{Text: reply.Text})
		}
		if err != nil {
			turnErr = err
			break
		}

		if len(reply.ToolCalls) > 0 {
			for _, call := range reply.ToolCalls {
				res, err := r.executeCall(ctx, exec, call, sess.ID, assistantID, p.Agent)
				if err != nil {
					turnErr = err
					break passes
				}
				parts = append(parts, toolParts(call, res)...)
				convo = append(convo, loom.ToolResultMessage{
					CallID:      call.ID,
					ToolName:    call.Name,
					Arguments:   call.Arguments,
					Output:      res.Output,
					IsError:     res.IsError,
					Attachments: res.Attachments,
					Created:     time.Now(),
				})
			}
			if format != nil && structured != nil {
				break
			}
			continue
		}

		if format != nil && structured == nil {
			attempts++
			if attempts <= format.Retries() {
				r.log.InfoContext(ctx, "structured output retry",
					"session", sess.ID, "attempt", attempts)
				convo = append(convo, structuredNudge())
				continue
			}
			turnErr = &loom.StructuredOutputError{
				Message: "model did not call the structured output tool",
				Retries: format.Retries(),
			}
		}
		break
	}

	for i := range parts {
		parts[i] = withPartID(parts[i], loom.NewPartID())
	}

	tokens := loom.Normalize(usage, meta, model.Family)
	msg := loom.AssistantMessage{
		ID:            assistantID,
		SessionID:     sess.ID,
		ParentID:      userMsg.ID,
		ProviderID:    p.ProviderID,
		ModelID:       p.ModelID,
		Parts:         parts,
		Cost:          loom.Cost(tokens, model.Cost),
		Tokens:        tokens,
		StopReason:    stop,
		RawStopReason: rawStop,
		Created:       created,
		Completed:     time.Now(),
	}
	if turnErr != nil {
		msg.Error = loom.Classify(turnErr)
		if msg.Error.Kind == loom.ErrorKindCancelled {
			msg.StopReason = loom.StopAborted
		} else {
			msg.StopReason = loom.StopError
		}
	} else {
		msg.Structured = structured
	}

	// Finalization must survive cancellation: a failed turn still persists
	// its assistant message.
	pctx := context.WithoutCancel(ctx)
	if err := r.store.CreateMessage(pctx, sess.ID, msg); err != nil {
		r.log.ErrorContext(ctx, "persist assistant message failed",
			"session", sess.ID, "message", assistantID, "error", err)
		if turnErr == nil {
			turnErr = fmt.Errorf("persist assistant message: %w", err)
		}
	}
	return msg, turnErr
}

// streamOnce drains one provider streaming pass and returns the assembled
// reply. The reply is returned even alongside an error so partial usage can
// be salvaged.
func (r *Runner) streamOnce(ctx context.Context, provider loom.Provider, req loom.Request, onEvent func(loom.Event)) (loom.Reply, error) {
	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return loom.Reply{}, err
	}
	defer stream.Close()

	var streamErr error
	for {
		evt, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if onEvent != nil {
			onEvent(evt)
		}
	}

	reply, replyErr := stream.Reply()
	if streamErr != nil {
		return reply, streamErr
	}
	if replyErr != nil {
		return reply, replyErr
	}
	return reply, nil
}

// executeCall runs one tool call. Infrastructure failures become IsError
// results fed back to the model; only cancellation aborts the turn.
func (r *Runner) executeCall(ctx context.Context, exec loom.ToolExecutor, call loom.ToolCall, sessionID, messageID, agentName string) (*loom.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tc := loom.ToolContext{
		SessionID: sessionID,
		MessageID: messageID,
		CallID:    call.ID,
		Agent:     agentName,
		Ask:       r.ask,
	}
	res, err := exec.Execute(ctx, call.Name, call.Arguments, tc)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		r.log.WarnContext(ctx, "tool execution failed",
			"tool", call.Name, "call", call.ID, "error", err)
		return &loom.ToolResult{Output: err.Error(), IsError: true}, nil
	}
	return res, nil
}

// turnExecutor wraps the base executor with the synthetic structured-output
// capture tool when the prompt's format requires one. The returned format is
// nil for plain-text turns.
func (r *Runner) turnExecutor(format loom.Format, captured *json.RawMessage) (loom.ToolExecutor, *loom.JSONSchemaFormat, error) {
	jf, ok := format.(loom.JSONSchemaFormat)
	if !ok {
		if r.executor == nil {
			return emptyExecutor{}, nil, nil
		}
		return r.executor, nil, nil
	}
	tool := builtin.NewStructuredTool(jf.Schema, func(payload json.RawMessage) {
		*captured = payload
	})
	capture, err := builtin.NewExecutor(tool)
	if err != nil {
		return nil, nil, fmt.Errorf("structured output tool: %w", err)
	}
	return &composedExecutor{base: r.executor, capture: capture}, &jf, nil
}

// composedExecutor routes the structured-output tool to its own validating
// executor and everything else to the base executor.
type composedExecutor struct {
	base    loom.ToolExecutor
	capture loom.ToolExecutor
}

func (e *composedExecutor) Execute(ctx context.Context, name string, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error) {
	if name == builtin.StructuredToolName {
		return e.capture.Execute(ctx, name, args, tc)
	}
	if e.base == nil {
		return &loom.ToolResult{Output: "unknown tool: " + name, IsError: true}, nil
	}
	return e.base.Execute(ctx, name, args, tc)
}

func (e *composedExecutor) Tools() []loom.ToolDef {
	var defs []loom.ToolDef
	if e.base != nil {
		defs = append(defs, e.base.Tools()...)
	}
	return append(defs, e.capture.Tools()...)
}

// emptyExecutor backs tool-less runners. Any call the model makes anyway
// comes back as an IsError result.
type emptyExecutor struct{}

func (emptyExecutor) Execute(_ context.Context, name string, _ json.RawMessage, _ loom.ToolContext) (*loom.ToolResult, error) {
	return &loom.ToolResult{Output: "unknown tool: " + name, IsError: true}, nil
}

func (emptyExecutor) Tools() []loom.ToolDef { return nil }

// toolParts renders an executed call as assistant message parts.
func toolParts(call loom.ToolCall, res *loom.ToolResult) []loom.Part {
	var text string
	if res.IsError {
		text = fmt.Sprintf("[%s] error: %s", call.Name, res.Output)
	} else {
		text = fmt.Sprintf("[%s] %s", call.Name, res.Output)
	}
	out := []loom.Part{loom.TextPart{Text: text, Synthetic: true}}
	for _, att := range res.Attachments {
		out = append(out, loom.FilePart{
			URL:      att.URL,
			Mime:     att.Mime,
			Filename: att.Filename,
		})
	}
	return out
}

// structuredNudge is the transient re-prompt appended when the model ends a
// pass without calling the structured-output tool. It is never persisted.
func structuredNudge() loom.UserMessage {
	return loom.UserMessage{
		Parts: []loom.Part{loom.TextPart{
			Text:      "You must call the structured_output tool with your final answer before finishing.",
			Synthetic: true,
		}},
	}
}
