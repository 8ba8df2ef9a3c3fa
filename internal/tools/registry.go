// Package tools implements the named tool dispatch table: schema
// validation, per-tool rate limiting, and execution.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loomrun/loom/internal/ratelimit"
	"github.com/loomrun/loom/pkg/models"
)

// Tool is the capability every registered tool implements.
type Tool interface {
	Name() string
	Description() string
	// Schema returns a JSON-Schema document describing the tool's
	// parameters (used both for LLM tool definitions and for validating
	// incoming arguments before dispatch).
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

// Limits bound how many times a single tool may be invoked in a sliding
// 60-second window, per §4.4. A limit of 0 means unlimited.
type Limits struct {
	CallsPerMinute int
}

const (
	// MaxToolNameLength bounds names to prevent pathological lookups.
	MaxToolNameLength = 256
	// MaxArgumentsSize bounds argument payload size (10MB) to prevent
	// resource exhaustion from a malformed or malicious tool call.
	MaxArgumentsSize = 10 << 20
)

type registeredTool struct {
	tool    Tool
	schema  *jsonschema.Schema
	limits  Limits
	limiter *ratelimit.Limiter
}

// Registry is the name -> tool dispatch table. Each instance owns its own
// per-tool rate limiter state, so two Registry instances in the same
// process (as happens across independent test cases) never share a
// tool's call budget.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry builds an empty registry. The default per-tool limit is 60
// calls per minute; override per-tool via RegisterWithLimits.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register adds a tool with the default rate limit (60 calls/minute).
func (r *Registry) Register(tool Tool) error {
	return r.RegisterWithLimits(tool, Limits{CallsPerMinute: 60})
}

// RegisterWithLimits adds a tool with an explicit sliding-window call
// limit, compiling its JSON schema up front so malformed schemas fail at
// registration rather than at call time.
func (r *Registry) RegisterWithLimits(tool Tool, limits Limits) error {
	compiled, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", tool.Name(), err)
	}

	var limiter *ratelimit.Limiter
	if limits.CallsPerMinute > 0 {
		limiter = ratelimit.New(ratelimit.Window{Limit: limits.CallsPerMinute, Duration: time.Minute})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = &registeredTool{tool: tool, schema: compiled, limits: limits, limiter: limiter}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// All returns every registered tool, for building an LLM tool catalog.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, rt.tool)
	}
	return out
}

// Execute validates arguments against the tool's schema, enforces its
// sliding-window call limit, and dispatches. It never returns a Go error
// for business failures: those are communicated via an unsuccessful
// ToolResult so callers can classify them uniformly.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)}, nil
	}
	if len(args) > MaxArgumentsSize {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxArgumentsSize)}, nil
	}

	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{Success: false, Error: "tool not found: " + name}, nil
	}

	if rt.limiter != nil {
		allowed, _ := rt.limiter.Check(name)
		if !allowed {
			return &models.ToolResult{Success: false, Error: fmt.Sprintf("rate limit exceeded for tool %q", name)}, nil
		}
	}

	if err := validateArguments(rt.schema, args); err != nil {
		return &models.ToolResult{Success: false, Error: "invalid tool call: " + err.Error()}, nil
	}

	return rt.tool.Execute(ctx, args)
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(strings.TrimSpace(string(schema))) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".schema.json", strings.NewReader(string(schema))); err != nil {
		return nil, err
	}
	return compiler.Compile(name + ".schema.json")
}

func validateArguments(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}
