package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/mbaranowski/loom"
)

// Compile-time interface check.
var _ loom.Tool = (*WebFetchTool)(nil)

const (
	webfetchMaxBody    = 5 * 1024 * 1024
	webfetchTimeout    = 30 * time.Second
	webfetchMaxTimeout = 120 * time.Second
)

// WebFetchTool retrieves a URL and returns its content. Text content is
// converted to the requested format; binary content (images, PDFs) comes
// back as a base64 data-URL attachment rather than inline output.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates a webfetch tool. A nil client uses a default with
// a 30 second timeout.
func NewWebFetchTool(client *http.Client) *WebFetchTool {
	if client == nil {
		client = &http.Client{Timeout: webfetchTimeout}
	}
	return &WebFetchTool{client: client}
}

func (t *WebFetchTool) ID() string { return "webfetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content as markdown, plain text, or raw HTML. Binary content is returned as an attachment."
}

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The http or https URL to fetch"
			},
			"format": {
				"type": "string",
				"enum": ["markdown", "text", "html"],
				"description": "Output format for text content; defaults to markdown"
			},
			"timeout": {
				"type": "integer",
				"description": "Request timeout in seconds, capped at 120"
			}
		},
		"required": ["url"]
	}`)
}

type webfetchArgs struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout"`
}

func (t *WebFetchTool) Execute(ctx context.Context, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error) {
	var a webfetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult(fmt.Sprintf("invalid arguments: %s", err)), nil
	}
	if a.Format == "" {
		a.Format = "markdown"
	}

	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errResult(fmt.Sprintf("url must be http or https: %s", a.URL)), nil
	}

	if tc.Ask != nil {
		err := tc.Ask(ctx, loom.PermissionRequest{
			Title:      "Fetch " + a.URL,
			Properties: map[string]any{"url": a.URL},
		})
		if err != nil {
			return nil, err
		}
	}

	if a.Timeout > 0 {
		timeout := time.Duration(a.Timeout) * time.Second
		if timeout > webfetchMaxTimeout {
			timeout = webfetchMaxTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return errResult(fmt.Sprintf("build request: %s", err)), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errResult(fmt.Sprintf("fetch failed: %s", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errResult(fmt.Sprintf("fetch failed: %s returned %s", a.URL, resp.Status)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webfetchMaxBody+1))
	if err != nil {
		return errResult(fmt.Sprintf("read response: %s", err)), nil
	}
	if len(body) > webfetchMaxBody {
		return errResult(fmt.Sprintf("response exceeds %d byte limit", webfetchMaxBody)), nil
	}

	mediaType := contentType(resp, a.URL)
	if isBinaryType(mediaType) {
		return t.attachmentResult(a.URL, mediaType, body), nil
	}
	return t.textualResult(a.Format, mediaType, body)
}

func (t *WebFetchTool) attachmentResult(rawURL, mediaType string, body []byte) *loom.ToolResult {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(body))
	res := textResult(fmt.Sprintf("Fetched %s (%s, %d bytes); content attached.", rawURL, mediaType, len(body)))
	res.Attachments = []loom.Attachment{{
		URL:      dataURL,
		Mime:     mediaType,
		Filename: urlFilename(rawURL),
	}}
	res.Metadata = map[string]any{"mime": mediaType, "bytes": len(body)}
	return res
}

func (t *WebFetchTool) textualResult(format, mediaType string, body []byte) (*loom.ToolResult, error) {
	switch {
	case mediaType == "text/html":
		if format == "html" {
			return textResult(string(body)), nil
		}
		text, err := extractText(body)
		if err != nil {
			return errResult(fmt.Sprintf("parse html: %s", err)), nil
		}
		return textResult(text), nil
	case mediaType == "text/markdown":
		if format == "html" {
			var buf bytes.Buffer
			if err := goldmark.Convert(body, &buf); err != nil {
				return errResult(fmt.Sprintf("render markdown: %s", err)), nil
			}
			return textResult(buf.String()), nil
		}
		return textResult(string(body)), nil
	default:
		return textResult(string(body)), nil
	}
}

// contentType resolves the response media type, falling back to the URL
// extension when the server omits the header.
func contentType(resp *http.Response, rawURL string) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			if mt := mime.TypeByExtension(ext); mt != "" {
				mediaType, _, _ := mime.ParseMediaType(mt)
				return mediaType
			}
			if ext == ".md" {
				return "text/markdown"
			}
		}
	}
	return "text/plain"
}

// isBinaryType reports whether content should travel as an attachment.
// SVG is text and stays inline.
func isBinaryType(mediaType string) bool {
	if mediaType == "image/svg+xml" {
		return false
	}
	if strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "audio/") ||
		strings.HasPrefix(mediaType, "video/") {
		return true
	}
	switch mediaType {
	case "application/pdf", "application/octet-stream", "application/zip", "application/gzip":
		return true
	}
	return false
}

// extractText walks the HTML tree collecting text nodes, skipping script
// and style subtrees.
func extractText(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimRight(b.String(), "\n"), nil
}

func urlFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
