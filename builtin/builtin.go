// Package builtin provides the built-in tools and the registry executor that
// dispatches tool calls to them. The executor validates arguments against
// each tool's schema before execution, so tools can trust their inputs.
package builtin

import "github.com/mbaranowski/loom"

func errResult(msg string) *loom.ToolResult {
	return &loom.ToolResult{Output: msg, IsError: true}
}

func textResult(text string) *loom.ToolResult {
	return &loom.ToolResult{Output: text}
}
