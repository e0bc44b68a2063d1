package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.Provider = (*Client)(nil)

// Client implements [loom.Provider] for the Google Gemini API.
type Client struct {
	client *genai.Client
	model  string
	caps   loom.Capabilities
}

// Option configures a [Client].
type Option func(*Client)

// WithModel sets the default model ID.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithCapabilities overrides the capability descriptor, typically with
// limits and rates looked up from the model catalog.
func WithCapabilities(caps loom.Capabilities) Option {
	return func(c *Client) { c.caps = caps }
}

// New creates a Gemini [Client] with the given API key and options.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	c := &Client{
		client: gc,
		model:  defaultModel,
		caps: loom.Capabilities{
			Family:           loom.FamilyGoogle,
			Limit:            loom.Limit{Context: 1048576, Output: defaultMaxTokens},
			ToolCalls:        true,
			StructuredOutput: true,
			Attachments:      true,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Capabilities returns the descriptor for capacity and cost decisions.
func (c *Client) Capabilities() loom.Capabilities {
	return c.caps
}

// Stream sends a streaming request to the Gemini API and returns a
// [loom.Stream] that emits semantic events.
func (c *Client) Stream(ctx context.Context, req loom.Request) (loom.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	contents := ConvertMessages(req.Messages)
	config := buildConfig(req)

	iter := c.client.Models.GenerateContentStream(ctx, model, contents, config)
	return NewStreamFromIter(ctx, iter), nil
}

func buildConfig(req loom.Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           ConvertTools(req.Tools),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
		},
	}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}

	return config
}

// ConvertMessages converts loom messages to genai Contents. Transient tool
// results pair up as a synthesized model functionCall message followed by a
// user functionResponse message; consecutive results share those two
// messages. Exported for testing.
func ConvertMessages(msgs []loom.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range msgs {
		switch m := msg.(type) {
		case loom.UserMessage:
			parts := convertParts(m.Parts)
			if len(parts) == 0 {
				continue
			}
			result = append(result, &genai.Content{Role: "user", Parts: parts})
		case loom.AssistantMessage:
			parts := convertParts(m.Parts)
			if len(parts) == 0 {
				continue
			}
			result = append(result, &genai.Content{Role: "model", Parts: parts})
		case loom.ToolResultMessage:
			var args map[string]any
			if len(m.Arguments) > 0 {
				// Arguments is json.RawMessage assembled by the provider.
				_ = json.Unmarshal(m.Arguments, &args)
			}
			call := &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   m.CallID,
					Name: m.ToolName,
					Args: args,
				},
			}
			var response map[string]any
			if m.IsError {
				response = map[string]any{"error": m.Output}
			} else {
				response = map[string]any{"output": m.Output}
			}
			res := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.CallID,
					Name:     m.ToolName,
					Response: response,
				},
			}
			if n := len(result); n >= 2 && isFunctionResponse(result[n-1]) {
				result[n-2].Parts = append(result[n-2].Parts, call)
				result[n-1].Parts = append(result[n-1].Parts, res)
			} else {
				result = append(result,
					&genai.Content{Role: "model", Parts: []*genai.Part{call}},
					&genai.Content{Role: "user", Parts: []*genai.Part{res}},
				)
			}
		}
	}
	return result
}

func isFunctionResponse(c *genai.Content) bool {
	return c.Role == "user" && len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

// convertParts renders message parts. Ignored text parts and agent markers
// carry no provider-visible content and are skipped.
func convertParts(parts []loom.Part) []*genai.Part {
	var result []*genai.Part
	for _, p := range parts {
		switch v := p.(type) {
		case loom.TextPart:
			if v.Ignored || v.Text == "" {
				continue
			}
			result = append(result, &genai.Part{Text: v.Text})
		case loom.ImagePart:
			data, err := base64.StdEncoding.DecodeString(v.Data)
			if err != nil {
				continue
			}
			result = append(result, &genai.Part{
				InlineData: &genai.Blob{MIMEType: v.Mime, Data: data},
			})
		case loom.FilePart:
			if part, ok := dataURLPart(v); ok {
				result = append(result, part)
				continue
			}
			if v.URL != "" {
				result = append(result, &genai.Part{
					Text: fmt.Sprintf("[attachment %s (%s)]", v.URL, v.Mime),
				})
			}
		}
	}
	return result
}

// dataURLPart converts a base64 image data URL into an inline data part.
func dataURLPart(f loom.FilePart) (*genai.Part, bool) {
	if !strings.HasPrefix(f.Mime, "image/") {
		return nil, false
	}
	prefix := "data:" + f.Mime + ";base64,"
	if !strings.HasPrefix(f.URL, prefix) {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(f.URL, prefix))
	if err != nil {
		return nil, false
	}
	return &genai.Part{
		InlineData: &genai.Blob{MIMEType: f.Mime, Data: data},
	}, true
}

// ConvertTools converts loom tool definitions to genai Tools.
// Exported for testing.
func ConvertTools(tools []loom.ToolDef) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		// Schema is json.RawMessage validated at registration time.
		var schema map[string]any
		_ = json.Unmarshal(loom.CleanSchema(t.Schema), &schema)
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
