// Package shell provides the shell command execution tool. Command output is
// sanitized, tail-truncated to fit the model's context, and offloaded to a
// temp file when it exceeds the in-band limit so the model can read the rest
// with the read tool.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	osexec "os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mbaranowski/loom"
)

const (
	defaultTimeout = 120 * time.Second
	maxTimeout     = 10 * time.Minute

	tailBufSize = 2 * DefaultMaxBytes
)

// Interface compliance check.
var _ loom.Tool = (*Tool)(nil)

// Tool executes shell commands in the session's working directory.
type Tool struct {
	dir string
}

// New creates the shell tool. Commands run with dir as the working directory;
// an empty dir inherits the process working directory.
func New(dir string) *Tool {
	return &Tool{dir: dir}
}

func (t *Tool) ID() string { return "shell" }

func (t *Tool) Description() string {
	return fmt.Sprintf(
		"Execute a shell command. Output truncated to last %d lines or %dKB; "+
			"if truncated, full output saved to a temp file readable with the read tool.",
		DefaultMaxLines, DefaultMaxBytes/1024,
	)
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The shell command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Timeout in milliseconds (default: 120000)"
			}
		},
		"required": ["command"]
	}`)
}

type shellArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"` // milliseconds
}

// Execute runs the command with process-group cleanup on timeout or abort.
// Failed commands come back as IsError results so the model can correct
// course; only cancellation and permission denial return errors.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage, tc loom.ToolContext) (*loom.ToolResult, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult(fmt.Sprintf("invalid arguments: %s", err)), nil
	}
	if a.Command == "" {
		return errResult("command is required"), nil
	}

	if tc.Ask != nil {
		err := tc.Ask(ctx, loom.PermissionRequest{
			Title:      "Run " + a.Command,
			Properties: map[string]any{"command": a.Command},
		})
		if err != nil {
			return nil, err
		}
	}

	timeout := defaultTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Millisecond
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := osexec.CommandContext(ctx, "bash", "-c", a.Command)
	cmd.Dir = t.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return errResult(fmt.Sprintf("failed to create stdout pipe: %s", err)), nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return errResult(fmt.Sprintf("failed to create stderr pipe: %s", err)), nil
	}

	if err := cmd.Start(); err != nil {
		return errResult(fmt.Sprintf("failed to start command: %s", err)), nil
	}

	stdoutC := NewCapture(int64(DefaultMaxBytes), tailBufSize)
	stderrC := NewCapture(int64(DefaultMaxBytes), tailBufSize)
	defer stdoutC.Close()
	defer stderrC.Close()

	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go func() { _, _ = io.Copy(stdoutC, stdoutPipe); close(stdoutDone) }()
	go func() { _, _ = io.Copy(stderrC, stderrPipe); close(stderrDone) }()

	<-stdoutDone
	<-stderrDone
	waitErr := cmd.Wait()

	exitCode := 0
	isError := false
	if waitErr != nil {
		var exitErr *osexec.ExitError
		isRealExit := errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0
		if !isRealExit && ctx.Err() != nil {
			return timeoutResult(ctx.Err(), stdoutC, stderrC), nil
		}
		isError = true
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return commandResult(exitCode, isError, stdoutC, stderrC), nil
}

func errResult(msg string) *loom.ToolResult {
	return &loom.ToolResult{Output: msg, IsError: true}
}

// processOutput sanitizes and truncates captured output.
func processOutput(c *Capture) (string, TruncateResult) {
	clean := Sanitize(string(c.Tail()))
	tr := TruncateTail(clean, DefaultMaxLines, DefaultMaxBytes)
	// The tail buffer may have dropped early output; the capture's line
	// count is authoritative.
	tr.TotalLines = c.Lines()
	return tr.Content, tr
}

func commandResult(exitCode int, isError bool, stdout, stderr *Capture) *loom.ToolResult {
	stdoutStr, stdoutTR := processOutput(stdout)
	stderrStr, stderrTR := processOutput(stderr)

	var b strings.Builder
	if stdoutStr != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", stdoutStr)
	}
	if stderrStr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", stderrStr)
	}
	fmt.Fprintf(&b, "exit code: %d", exitCode)

	appendOffloadNotice(&b, "stdout", stdoutTR, stdout)
	appendOffloadNotice(&b, "stderr", stderrTR, stderr)

	return &loom.ToolResult{Output: b.String(), IsError: isError}
}

func timeoutResult(ctxErr error, stdout, stderr *Capture) *loom.ToolResult {
	stdoutStr, stdoutTR := processOutput(stdout)
	stderrStr, stderrTR := processOutput(stderr)

	var b strings.Builder
	fmt.Fprintf(&b, "command timed out: %s\n", ctxErr)
	if stdoutStr != "" {
		fmt.Fprintf(&b, "\nstdout (partial):\n%s\n", stdoutStr)
	}
	if stderrStr != "" {
		fmt.Fprintf(&b, "\nstderr (partial):\n%s\n", stderrStr)
	}

	appendOffloadNotice(&b, "stdout", stdoutTR, stdout)
	appendOffloadNotice(&b, "stderr", stderrTR, stderr)

	return &loom.ToolResult{Output: b.String(), IsError: true}
}

func appendOffloadNotice(b *strings.Builder, name string, tr TruncateResult, c *Capture) {
	filePath := c.SpillPath()
	offloadErr := c.SpillErr()

	if !tr.Truncated && filePath == "" {
		return
	}
	if filePath != "" && offloadErr == nil {
		fmt.Fprintf(b, "\n[%s: Showing last %d of %d lines. Full output: %s]",
			name, tr.OutputLines, tr.TotalLines, filePath)
	} else if filePath != "" && offloadErr != nil {
		fmt.Fprintf(b, "\n[%s: Showing last %d of %d lines. Full output file may be incomplete: %s (%s)]",
			name, tr.OutputLines, tr.TotalLines, filePath, offloadErr)
	} else if tr.Truncated {
		fmt.Fprintf(b, "\n[%s: Showing last %d of %d lines]",
			name, tr.OutputLines, tr.TotalLines)
	}
}
