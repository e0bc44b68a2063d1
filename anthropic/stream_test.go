package anthropic_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/anthropic"
)

// sse formats one server-sent event.
func sse(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprint(w, e)
		}
	}))
}

func drain(t *testing.T, s loom.Stream) []loom.Event {
	t.Helper()
	var events []loom.Event
	for {
		evt, err := s.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, evt)
	}
}

const messageStart = `{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":1000,"output_tokens":1,"cache_creation_input_tokens":300,"cache_read_input_tokens":200}}}`

func TestStreamTextReply(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":500}}`),
		sse("message_stop", `{"type":"message_stop"}`),
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()

	events := drain(t, stream)
	assert.Equal(t, loom.StreamStateComplete, stream.State())

	var text string
	var sawUsage bool
	for _, evt := range events {
		switch e := evt.(type) {
		case loom.EventTextDelta:
			text += e.Delta
		case loom.EventUsage:
			sawUsage = true
		}
	}
	assert.Equal(t, "Hello world", text)
	assert.True(t, sawUsage)

	reply, err := stream.Reply()
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply.Text)
	assert.Equal(t, loom.StopEndTurn, reply.StopReason)
	assert.Equal(t, "end_turn", reply.RawStopReason)

	// input_tokens stays exclusive of cache; cache figures travel on
	// the anthropic metadata for the normalizer.
	assert.Equal(t, 1000, reply.Usage.InputTokens)
	assert.Equal(t, 500, reply.Usage.OutputTokens)
	require.NotNil(t, reply.Metadata.Anthropic)
	assert.Equal(t, 300, reply.Metadata.Anthropic.CacheCreationInputTokens)
	assert.Equal(t, 200, reply.Metadata.Anthropic.CacheReadInputTokens)

	tokens := loom.Normalize(reply.Usage, reply.Metadata, loom.FamilyAnthropic)
	assert.Equal(t, 1000, tokens.Input)
	assert.Equal(t, 200, tokens.Cache.Read)
	assert.Equal(t, 300, tokens.Cache.Write)
}

func TestStreamToolCall(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"read"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse("message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":40}}`),
		sse("message_stop", `{"type":"message_stop"}`),
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("read it")})
	require.NoError(t, err)
	defer stream.Close()

	events := drain(t, stream)

	var begin *loom.EventToolCallBegin
	var end *loom.EventToolCallEnd
	for _, evt := range events {
		switch e := evt.(type) {
		case loom.EventToolCallBegin:
			begin = &e
		case loom.EventToolCallEnd:
			end = &e
		}
	}
	require.NotNil(t, begin)
	assert.Equal(t, "read", begin.Name)
	require.NotNil(t, end)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(end.Call.Arguments))

	reply, err := stream.Reply()
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "toolu_1", reply.ToolCalls[0].ID)
	assert.Equal(t, loom.StopToolUse, reply.StopReason)
}

func TestStreamReasoningDeltas(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"mull it over"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":9}}`),
		sse("message_stop", `{"type":"message_stop"}`),
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("think")})
	require.NoError(t, err)
	defer stream.Close()

	drain(t, stream)
	reply, err := stream.Reply()
	require.NoError(t, err)
	assert.Equal(t, "mull it over", reply.Reasoning)
	assert.Empty(t, reply.Text)
}

func TestStreamTruncatedBody(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"par"}}`),
		// No message_delta / message_stop: the connection drops here.
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()

	var lastErr error
	for {
		_, err := stream.Next()
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
	assert.NotEqual(t, io.EOF, lastErr)
	assert.Equal(t, loom.StreamStateError, stream.State())

	// Partial reply is still available for usage salvage.
	reply, err := stream.Reply()
	require.NoError(t, err)
	assert.Equal(t, "par", reply.Text)
	assert.Equal(t, loom.StopError, reply.StopReason)
	assert.Equal(t, 1000, reply.Usage.InputTokens)
}

func TestStreamAPIErrorEvent(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("error", `{"type":"error","error":{"type":"overloaded_error","message":"try later"}}`),
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()

	_, nextErr := stream.Next()
	require.Error(t, nextErr)
	assert.Contains(t, nextErr.Error(), "overloaded")
}

func TestStreamCloseMidStream(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"some"}}`),
		sse("message_stop", `{"type":"message_stop"}`),
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, loom.StreamStateClosed, stream.State())

	reply, err := stream.Reply()
	require.NoError(t, err)
	assert.Equal(t, loom.StopAborted, reply.StopReason)

	_, err = stream.Next()
	assert.ErrorIs(t, err, loom.ErrStreamClosed)
}

func TestStreamPingAndUnknownEventsIgnored(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		sse("message_start", messageStart),
		sse("ping", `{"type":"ping"}`),
		sse("shiny_new_event", `{"type":"shiny_new_event"}`),
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`),
		sse("message_stop", `{"type":"message_stop"}`),
	)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()

	drain(t, stream)
	reply, err := stream.Reply()
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
}

func TestStreamReplyBeforeData(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, sse("message_stop", `{"type":"message_stop"}`))
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Reply()
	assert.ErrorIs(t, err, loom.ErrStreamNotReady)
}

func TestStreamMultilineData(t *testing.T) {
	t.Parallel()

	// SSE data may span multiple data: lines; they join with newlines.
	body := "event: message_start\n" +
		"data: " + messageStart + "\n\n" +
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\n" +
		"data: \"delta\":{\"type\":\"text_delta\",\"text\":\"joined\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.Copy(w, strings.NewReader(body))
	}))
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()

	drain(t, stream)
	reply, err := stream.Reply()
	require.NoError(t, err)
	assert.Equal(t, "joined", reply.Text)
}
