package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.Provider = (*Client)(nil)

// Client implements [loom.Provider] for the Anthropic Messages API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	caps       loom.Capabilities
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCapabilities overrides the capability descriptor, typically with
// limits and rates looked up from the model catalog.
func WithCapabilities(caps loom.Capabilities) Option {
	return func(c *Client) { c.caps = caps }
}

// New creates an Anthropic [Client] with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		caps: loom.Capabilities{
			Family:           loom.FamilyAnthropic,
			Limit:            loom.Limit{Context: 200000, Output: defaultMaxTokens},
			ToolCalls:        true,
			StructuredOutput: true,
			Attachments:      true,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Capabilities returns the descriptor for capacity and cost decisions.
func (c *Client) Capabilities() loom.Capabilities {
	return c.caps
}

// Stream sends a streaming request to the Anthropic Messages API and returns
// a [loom.Stream] that emits semantic events.
func (c *Client) Stream(ctx context.Context, req loom.Request) (loom.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	body, err := c.buildRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseHTTPError(req, resp)
	}

	return newStream(ctx, resp.Body), nil
}

func (c *Client) buildRequestBody(req loom.Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Stream:      true,
		System:      convertSystem(req.System),
		Messages:    convertMessages(req.Messages),
		Tools:       convertTools(req.Tools),
		Temperature: req.Temperature,
	}
	injectCacheMarkers(&apiReq)

	return json.Marshal(apiReq)
}

// convertSystem converts a system prompt string to an array of content blocks
// suitable for the Anthropic API. Returns nil when the prompt is empty.
func convertSystem(prompt string) []wireBlock {
	if prompt == "" {
		return nil
	}
	return []wireBlock{{Type: "text", Text: prompt}}
}

// injectCacheMarkers sets cache_control breakpoints on the request:
//  1. Top-level: automatic caching for the conversation message window.
//  2. System prompt last block: stable content breakpoint.
//  3. Last tool: stable tool definitions breakpoint.
func injectCacheMarkers(req *messagesRequest) {
	// cc is shared across all breakpoints; safe because it is read-only after assignment.
	cc := &cacheControl{Type: "ephemeral"}

	req.CacheControl = cc

	if len(req.System) > 0 {
		req.System[len(req.System)-1].CacheControl = cc
	}

	if len(req.Tools) > 0 {
		req.Tools[len(req.Tools)-1].CacheControl = cc
	}
}

// convertMessages renders the conversation for the API. Transient tool
// results pair up as a synthesized assistant tool_use message followed by a
// user tool_result message; consecutive results share those two messages.
func convertMessages(msgs []loom.Message) []wireMessage {
	var result []wireMessage
	for _, msg := range msgs {
		switch m := msg.(type) {
		case loom.UserMessage:
			blocks := convertParts(m.Parts)
			if len(blocks) == 0 {
				continue
			}
			result = append(result, wireMessage{Role: "user", Content: blocks})
		case loom.AssistantMessage:
			blocks := convertParts(m.Parts)
			if len(blocks) == 0 {
				continue
			}
			result = append(result, wireMessage{Role: "assistant", Content: blocks})
		case loom.ToolResultMessage:
			use := wireBlock{
				Type:  "tool_use",
				ID:    m.CallID,
				Name:  m.ToolName,
				Input: toolInput(m.Arguments),
			}
			res := wireBlock{
				Type:      "tool_result",
				ToolUseID: m.CallID,
				Content:   []wireBlock{{Type: "text", Text: m.Output}},
				IsError:   m.IsError,
			}
			if n := len(result); n >= 2 && isToolResultMessage(result[n-1]) {
				result[n-2].Content = append(result[n-2].Content, use)
				result[n-1].Content = append(result[n-1].Content, res)
			} else {
				result = append(result,
					wireMessage{Role: "assistant", Content: []wireBlock{use}},
					wireMessage{Role: "user", Content: []wireBlock{res}},
				)
			}
		}
	}
	return result
}

func toolInput(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}

func isToolResultMessage(msg wireMessage) bool {
	return msg.Role == "user" && len(msg.Content) > 0 && msg.Content[0].Type == "tool_result"
}

// convertParts renders message parts as content blocks. Ignored text parts
// and agent markers carry no provider-visible content and are skipped.
func convertParts(parts []loom.Part) []wireBlock {
	var result []wireBlock
	for _, p := range parts {
		switch v := p.(type) {
		case loom.TextPart:
			if v.Ignored || v.Text == "" {
				continue
			}
			result = append(result, wireBlock{Type: "text", Text: v.Text})
		case loom.ImagePart:
			result = append(result, wireBlock{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: v.Mime,
					Data:      v.Data,
				},
			})
		case loom.FilePart:
			if block, ok := dataURLBlock(v); ok {
				result = append(result, block)
				continue
			}
			if v.URL != "" {
				result = append(result, wireBlock{
					Type: "text",
					Text: fmt.Sprintf("[attachment %s (%s)]", v.URL, v.Mime),
				})
			}
		}
	}
	return result
}

// dataURLBlock converts a base64 image data URL into an image block.
func dataURLBlock(f loom.FilePart) (wireBlock, bool) {
	if !strings.HasPrefix(f.Mime, "image/") {
		return wireBlock{}, false
	}
	prefix := "data:" + f.Mime + ";base64,"
	if !strings.HasPrefix(f.URL, prefix) {
		return wireBlock{}, false
	}
	return wireBlock{
		Type: "image",
		Source: &imageSource{
			Type:      "base64",
			MediaType: f.Mime,
			Data:      strings.TrimPrefix(f.URL, prefix),
		},
	}, true
}

func convertTools(tools []loom.ToolDef) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]wireTool, len(tools))
	for i, t := range tools {
		result[i] = wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: loom.CleanSchema(t.Schema),
		}
	}
	return result
}

// parseHTTPError maps API failures onto the error taxonomy where the status
// is unambiguous, falling back to a generic error otherwise.
func (c *Client) parseHTTPError(req loom.Request, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("anthropic: HTTP %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, string(body))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &loom.AuthError{Message: apiErr.Error.Message}
	case http.StatusPaymentRequired:
		return &loom.CreditsError{Message: apiErr.Error.Message}
	case http.StatusNotFound:
		if apiErr.Error.Type == "not_found_error" {
			return &loom.ModelError{ProviderID: "anthropic", ModelID: req.Model, Message: apiErr.Error.Message}
		}
	}
	return fmt.Errorf("anthropic: %s: %s", apiErr.Error.Type, apiErr.Error.Message)
}
