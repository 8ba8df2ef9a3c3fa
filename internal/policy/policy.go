// Package policy classifies tool intent into an execution mode and
// authorizes dispatch against a configured policy.
package policy

import (
	"regexp"
	"strings"

	"github.com/loomrun/loom/pkg/models"
)

// ReadOnlyTools are tools whose intent never mutates workspace state.
var ReadOnlyTools = map[string]bool{
	"read_file":     true,
	"list_dir":      true,
	"web_search":    true,
	"fetch_url":     true,
	"list_skills":   true,
	"recall_memory": true,
	"search_memory": true,
}

// WriteTools are tools whose intent mutates workspace or memory state but
// without the elevated blast radius of a raw shell invocation.
var WriteTools = map[string]bool{
	"write_file":    true,
	"edit_file":     true,
	"apply_patch":   true,
	"remember":      true,
	"forget":        true,
	"install_skill": true,
}

// elevatedPatterns matches shell-style commands whose blast radius demands
// explicit approval regardless of the configured default mode.
var elevatedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\b`),
	regexp.MustCompile(`\bchmod\b`),
	regexp.MustCompile(`\bchown\b`),
	regexp.MustCompile(`\bgit\s+reset\b`),
	regexp.MustCompile(`\bgit\s+clean\b`),
	regexp.MustCompile(`\bdd\b`),
	regexp.MustCompile(`\bmkfs\b`),
}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine is a pure function of (tool_name, arguments) -> mode, plus an
// authorization predicate over (mode, approved).
type Engine struct {
	DefaultMode         models.ExecutionMode
	AllowedModes        map[models.ExecutionMode]bool
	RequireApprovalFor  map[models.ExecutionMode]bool
}

// NewEngine builds an Engine with the spec's documented defaults: unknown
// tools resolve to workspace_write, read_only and workspace_write are
// allowed outright, and elevated always requires approval.
func NewEngine() *Engine {
	return &Engine{
		DefaultMode: models.ModeWorkspaceWrite,
		AllowedModes: map[models.ExecutionMode]bool{
			models.ModeReadOnly:       true,
			models.ModeWorkspaceWrite: true,
		},
		RequireApprovalFor: map[models.ExecutionMode]bool{
			models.ModeElevated: true,
		},
	}
}

// InferMode derives the execution mode for a tool call from its name and,
// for shell-style invocations, its arguments.
func (e *Engine) InferMode(toolName string, arguments map[string]any) models.ExecutionMode {
	name := strings.ToLower(strings.TrimSpace(toolName))
	if ReadOnlyTools[name] {
		return models.ModeReadOnly
	}
	if WriteTools[name] {
		return models.ModeWorkspaceWrite
	}
	if name == "shell" {
		cmd := strings.ToLower(strings.TrimSpace(stringArg(arguments, "command")))
		for _, p := range elevatedPatterns {
			if p.MatchString(cmd) {
				return models.ModeElevated
			}
		}
		return models.ModeWorkspaceWrite
	}
	return e.DefaultMode
}

// Authorize decides whether mode may dispatch given the approved flag.
func (e *Engine) Authorize(mode models.ExecutionMode, approved bool) Decision {
	if !e.AllowedModes[mode] && mode != models.ModeElevated {
		return Decision{Allowed: false, Reason: "Mode '" + string(mode) + "' is not allowed by runtime policy"}
	}

	if mode == models.ModeElevated && e.RequireApprovalFor[mode] && !approved {
		return Decision{Allowed: false, Reason: "Elevated mode requires explicit approval"}
	}

	if mode == models.ModeElevated && !e.AllowedModes[mode] && !approved {
		return Decision{Allowed: false, Reason: "Elevated mode is disabled"}
	}

	return Decision{Allowed: true}
}

func stringArg(arguments map[string]any, key string) string {
	if arguments == nil {
		return ""
	}
	v, ok := arguments[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
