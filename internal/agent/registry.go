// Package agent implements the conversational tool-calling loop: the
// tool registry and executor, image reference resolution, event
// emission, and the orchestrator that drives sessions through the model
// gateway.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pixelforge/pixelforge/internal/gateway"
)

// Handler performs one tool invocation. Arguments arrive validated and
// with image references already resolved to concrete URLs. The returned
// JSON is recorded as the execution result and fed back to the model.
type Handler func(ctx context.Context, tc *ToolContext, args json.RawMessage) (json.RawMessage, error)

// ToolConfig describes one registered tool.
type ToolConfig struct {
	Name        string
	Description string

	// Schema is the JSON Schema for the tool's arguments.
	Schema json.RawMessage

	// CreditCost is debited from the user on successful execution.
	CreditCost int64

	// EstimatedTimeSeconds sizes the execution timeout. Zero means the
	// default timeout applies.
	EstimatedTimeSeconds int

	// ImageParams names the string arguments that hold image
	// references needing resolution before the handler runs.
	ImageParams []string

	// ProducesImage marks tools whose result carries an output image
	// to record as a session artifact.
	ProducesImage bool

	Handler Handler

	// Compiled form of Schema, built lazily on first validation.
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

// ToolContext carries per-invocation identity into handlers.
type ToolContext struct {
	SessionID string
	UserID    string
	StepIndex int
	CallID    string
}

// Registry holds the tool catalog. Registration happens at startup;
// lookups run for the lifetime of the process.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolConfig)}
}

// Register adds a tool. Registering a name twice is a programming
// error and fails fast.
func (r *Registry) Register(cfg *ToolConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if cfg.Handler == nil {
		return fmt.Errorf("tool %s has no handler", cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[cfg.Name]; exists {
		return fmt.Errorf("tool %s already registered", cfg.Name)
	}
	r.tools[cfg.Name] = cfg
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*ToolConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tools[name]
	return cfg, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing tool definitions. A nil allowlist
// exposes every registered tool; otherwise only listed tools appear,
// and names that match nothing are silently skipped. Output order is
// deterministic.
func (r *Registry) Definitions(allowlist []string) []gateway.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if allowlist == nil {
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	} else {
		for _, name := range allowlist {
			if _, ok := r.tools[name]; ok {
				names = append(names, name)
			}
		}
	}

	defs := make([]gateway.ToolDef, 0, len(names))
	for _, name := range names {
		cfg := r.tools[name]
		defs = append(defs, gateway.ToolDef{
			Name:        cfg.Name,
			Description: cfg.Description,
			Schema:      cfg.Schema,
		})
	}
	return defs
}
