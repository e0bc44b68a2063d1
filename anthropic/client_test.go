package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/anthropic"
)

func userMessages(text string) []loom.Message {
	return []loom.Message{
		loom.UserMessage{
			ID:    loom.NewMessageID(),
			Parts: []loom.Part{loom.TextPart{Text: text}},
		},
	}
}

// captureServer records the request body and headers and replies with a
// minimal complete SSE conversation.
func captureServer(t *testing.T) (*httptest.Server, *map[string]any, *http.Header) {
	t.Helper()
	var body map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse("message_start", messageStart)))
		w.Write([]byte(sse("message_stop", `{"type":"message_stop"}`)))
	}))
	return srv, &body, &headers
}

func TestStreamRequestHeaders(t *testing.T) {
	t.Parallel()

	srv, _, headers := captureServer(t)
	defer srv.Close()

	c := anthropic.New("secret-key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()
	drain(t, stream)

	assert.Equal(t, "secret-key", headers.Get("X-Api-Key"))
	assert.Equal(t, "2023-06-01", headers.Get("Anthropic-Version"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestBuildRequestDefaults(t *testing.T) {
	t.Parallel()

	srv, body, _ := captureServer(t)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	defer stream.Close()
	drain(t, stream)

	b := *body
	assert.Equal(t, "claude-sonnet-4-20250514", b["model"])
	assert.Equal(t, float64(8192), b["max_tokens"])
	assert.Equal(t, true, b["stream"])
	assert.NotContains(t, b, "temperature")
	assert.NotContains(t, b, "tools")
}

func TestBuildRequestSystemAndCacheMarkers(t *testing.T) {
	t.Parallel()

	srv, body, _ := captureServer(t)
	defer srv.Close()

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	req := loom.Request{
		System:   "You are terse.",
		Messages: userMessages("hi"),
		Tools: []loom.ToolDef{
			{Name: "read", Description: "read a file", Schema: json.RawMessage(`{"$schema":"https://json-schema.org/draft/2020-12/schema","type":"object"}`)},
		},
	}
	stream, err := c.Stream(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()
	drain(t, stream)

	b := *body
	assert.Contains(t, b, "cache_control")

	system, ok := b["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	block := system[0].(map[string]any)
	assert.Equal(t, "You are terse.", block["text"])
	assert.Contains(t, block, "cache_control")

	tools, ok := b["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "read", tool["name"])
	assert.Contains(t, tool, "cache_control")

	schema := tool["input_schema"].(map[string]any)
	assert.NotContains(t, schema, "$schema")
	assert.Equal(t, "object", schema["type"])
}

func TestBuildRequestToolResultPairing(t *testing.T) {
	t.Parallel()

	srv, body, _ := captureServer(t)
	defer srv.Close()

	msgs := []loom.Message{
		loom.UserMessage{
			ID:    loom.NewMessageID(),
			Parts: []loom.Part{loom.TextPart{Text: "list them"}},
		},
		loom.ToolResultMessage{
			CallID:    "toolu_1",
			ToolName:  "read",
			Arguments: json.RawMessage(`{"path":"a.txt"}`),
			Output:    "contents of a",
		},
		loom.ToolResultMessage{
			CallID:    "toolu_2",
			ToolName:  "read",
			Arguments: json.RawMessage(`{"path":"b.txt"}`),
			Output:    "no such file",
			IsError:   true,
		},
	}

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: msgs})
	require.NoError(t, err)
	defer stream.Close()
	drain(t, stream)

	raw, err := json.Marshal((*body)["messages"])
	require.NoError(t, err)
	var messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type      string          `json:"type"`
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Input     json.RawMessage `json:"input"`
			ToolUseID string          `json:"tool_use_id"`
			IsError   bool            `json:"is_error"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &messages))

	// Consecutive tool results collapse into one assistant/user pair.
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[0].Role)

	assistant := messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "tool_use", assistant.Content[0].Type)
	assert.Equal(t, "toolu_1", assistant.Content[0].ID)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(assistant.Content[0].Input))
	assert.Equal(t, "toolu_2", assistant.Content[1].ID)

	results := messages[2]
	assert.Equal(t, "user", results.Role)
	require.Len(t, results.Content, 2)
	assert.Equal(t, "tool_result", results.Content[0].Type)
	assert.Equal(t, "toolu_1", results.Content[0].ToolUseID)
	assert.False(t, results.Content[0].IsError)
	assert.Equal(t, "toolu_2", results.Content[1].ToolUseID)
	assert.True(t, results.Content[1].IsError)
}

func TestBuildRequestSkipsIgnoredParts(t *testing.T) {
	t.Parallel()

	srv, body, _ := captureServer(t)
	defer srv.Close()

	msgs := []loom.Message{
		loom.AssistantMessage{
			ID: loom.NewMessageID(),
			Parts: []loom.Part{
				loom.TextPart{Text: "internal monologue", Ignored: true},
				loom.TextPart{Text: "visible answer"},
			},
		},
		loom.UserMessage{
			ID:    loom.NewMessageID(),
			Parts: []loom.Part{loom.TextPart{Text: "go on"}},
		},
	}

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: msgs})
	require.NoError(t, err)
	defer stream.Close()
	drain(t, stream)

	raw, err := json.Marshal((*body)["messages"])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "internal monologue")
	assert.Contains(t, string(raw), "visible answer")
}

func TestBuildRequestImageParts(t *testing.T) {
	t.Parallel()

	srv, body, _ := captureServer(t)
	defer srv.Close()

	msgs := []loom.Message{
		loom.UserMessage{
			ID: loom.NewMessageID(),
			Parts: []loom.Part{
				loom.TextPart{Text: "what is this"},
				loom.ImagePart{Data: "aGVsbG8=", Mime: "image/png"},
				loom.FilePart{URL: "data:image/jpeg;base64,Zm9v", Mime: "image/jpeg", Filename: "pic.jpg"},
			},
		},
	}

	c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
	stream, err := c.Stream(context.Background(), loom.Request{Messages: msgs})
	require.NoError(t, err)
	defer stream.Close()
	drain(t, stream)

	raw, err := json.Marshal((*body)["messages"])
	require.NoError(t, err)
	var messages []struct {
		Content []struct {
			Type   string `json:"type"`
			Source *struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			} `json:"source"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &messages))
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Content, 3)

	png := messages[0].Content[1]
	assert.Equal(t, "image", png.Type)
	require.NotNil(t, png.Source)
	assert.Equal(t, "base64", png.Source.Type)
	assert.Equal(t, "image/png", png.Source.MediaType)
	assert.Equal(t, "aGVsbG8=", png.Source.Data)

	jpeg := messages[0].Content[2]
	assert.Equal(t, "image", jpeg.Type)
	require.NotNil(t, jpeg.Source)
	assert.Equal(t, "Zm9v", jpeg.Source.Data)
}

func TestStreamValidatesRequest(t *testing.T) {
	t.Parallel()

	c := anthropic.New("key")
	temp := 3.5
	_, err := c.Stream(context.Background(), loom.Request{
		Messages:    userMessages("hi"),
		Temperature: &temp,
	})
	assert.ErrorIs(t, err, loom.ErrValidation)
}

func errorServer(t *testing.T, status int, errType, msg string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		resp := map[string]any{
			"type":  "error",
			"error": map[string]string{"type": errType, "message": msg},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestStreamHTTPErrorMapping(t *testing.T) {
	t.Parallel()

	t.Run("unauthorized", func(t *testing.T) {
		t.Parallel()
		srv := errorServer(t, http.StatusUnauthorized, "authentication_error", "bad key")
		defer srv.Close()

		c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
		_, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
		var authErr *loom.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "bad key", authErr.Message)
	})

	t.Run("payment required", func(t *testing.T) {
		t.Parallel()
		srv := errorServer(t, http.StatusPaymentRequired, "billing_error", "out of credits")
		defer srv.Close()

		c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
		_, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
		var creditsErr *loom.CreditsError
		require.ErrorAs(t, err, &creditsErr)
	})

	t.Run("model not found", func(t *testing.T) {
		t.Parallel()
		srv := errorServer(t, http.StatusNotFound, "not_found_error", "no such model")
		defer srv.Close()

		c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
		_, err := c.Stream(context.Background(), loom.Request{
			Model:    "claude-imaginary-9",
			Messages: userMessages("hi"),
		})
		var modelErr *loom.ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, "claude-imaginary-9", modelErr.ModelID)
	})

	t.Run("server error is generic", func(t *testing.T) {
		t.Parallel()
		srv := errorServer(t, http.StatusInternalServerError, "api_error", "boom")
		defer srv.Close()

		c := anthropic.New("key", anthropic.WithBaseURL(srv.URL))
		_, err := c.Stream(context.Background(), loom.Request{Messages: userMessages("hi")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	c := anthropic.New("key")
	caps := c.Capabilities()
	assert.Equal(t, loom.FamilyAnthropic, caps.Family)
	assert.True(t, caps.ToolCalls)
	assert.True(t, caps.StructuredOutput)

	custom := loom.Capabilities{
		Family: loom.FamilyAnthropic,
		Limit:  loom.Limit{Context: 100000, Output: 4096},
		Cost:   loom.Rates{Input: 3, Output: 15},
	}
	c = anthropic.New("key", anthropic.WithCapabilities(custom))
	assert.Equal(t, custom, c.Capabilities())
}
