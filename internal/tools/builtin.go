package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/loomrun/loom/pkg/models"
)

// ReadFileTool reads a file from the workspace. It is classified read_only
// by the policy engine.
type ReadFileTool struct {
	Workspace string
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace." }
func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string", "description": "Path relative to the workspace"}},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: "invalid arguments: " + err.Error()}, nil
	}

	full := filepath.Join(t.Workspace, input.Path)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.ToolResult{Success: false, Error: "not found: " + input.Path}, nil
		}
		return &models.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return &models.ToolResult{Success: true, Output: string(data)}, nil
}

// ListDirTool lists directory entries. Classified read_only.
type ListDirTool struct {
	Workspace string
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List files and directories at a workspace path." }
func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string", "description": "Path relative to the workspace, default '.'"}},
		"additionalProperties": false
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return &models.ToolResult{Success: false, Error: "invalid arguments: " + err.Error()}, nil
		}
	}
	if input.Path == "" {
		input.Path = "."
	}

	full := filepath.Join(t.Workspace, input.Path)
	entries, err := os.ReadDir(full)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error()}, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	return &models.ToolResult{Success: true, Output: strings.Join(names, "\n")}, nil
}

// ShellTool executes shell commands in the workspace, subject to an
// allow-list unless AllowAll is set. Policy classifies it as workspace_write
// or elevated depending on the command text, never self-declared.
type ShellTool struct {
	Workspace      string
	AllowedCommands map[string]bool
	DefaultTimeout time.Duration
	AllowAll       bool
}

var defaultAllowedCommands = []string{
	"ls", "cat", "head", "tail", "echo", "pwd", "whoami",
	"date", "uname", "df", "du", "free", "uptime",
	"git", "grep", "find",
}

// NewShellTool builds a ShellTool with the documented default allow-list.
func NewShellTool(workspace string) *ShellTool {
	allowed := make(map[string]bool, len(defaultAllowedCommands))
	for _, c := range defaultAllowedCommands {
		allowed[c] = true
	}
	return &ShellTool{Workspace: workspace, AllowedCommands: allowed, DefaultTimeout: 30 * time.Second}
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Execute a shell command in the workspace directory." }
func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to execute"},
			"timeout": {"type": "number", "description": "Optional timeout in seconds"}
		},
		"required": ["command"],
		"additionalProperties": false
	}`)
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Command string  `json:"command"`
		Timeout float64 `json:"timeout"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: "invalid arguments: " + err.Error()}, nil
	}

	if !t.isAllowed(input.Command) {
		return &models.ToolResult{Success: false, Error: "command not allowed: " + firstWord(input.Command)}, nil
	}

	timeout := t.DefaultTimeout
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout * float64(time.Second))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", input.Command)
	cmd.Dir = t.Workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("command timed out after %s", timeout)}, nil
	}

	output := strings.TrimSpace(stdout.String())
	if stderrText := strings.TrimSpace(stderr.String()); stderrText != "" {
		if output != "" {
			output += "\n"
		}
		output += "[stderr]\n" + stderrText
	}
	if output == "" {
		output = "(no output)"
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if ok {
			return &models.ToolResult{Success: false, Output: output, Error: fmt.Sprintf("exit code: %d", exitErr.ExitCode())}, nil
		}
		return &models.ToolResult{Success: false, Output: output, Error: err.Error()}, nil
	}

	return &models.ToolResult{Success: true, Output: output}, nil
}

func (t *ShellTool) isAllowed(command string) bool {
	if t.AllowAll {
		return true
	}
	return t.AllowedCommands[firstWord(command)]
}

func firstWord(command string) string {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
