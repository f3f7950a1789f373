package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"ragagent/internal/domain"
)

// MaxNameLength is the longest tool name the chat APIs accept.
const MaxNameLength = 64

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrInvalidName   = errors.New("invalid tool name")
)

// Registry is the name-keyed set of tools offered to the agent. Definitions
// are listed in registration order, so the aggregate tool registered first
// is the first the model sees.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds t. Names must be unique and use only the characters the chat
// APIs allow in function names.
func (r *Registry) Register(t domain.Tool) error {
	name := t.Name()
	if len(name) > MaxNameLength || !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.logger.Debug("registered tool", "name", name)
	return nil
}

// RegisterAll registers tools in order and stops at the first error.
func (r *Registry) RegisterAll(tools ...domain.Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute dispatches a call by name.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	start := time.Now()
	out, err := t.Execute(ctx, args)
	r.logger.Debug("tool executed", "name", name, "duration", time.Since(start), "ok", err == nil)
	return out, err
}

// GetDefinitions describes every tool for the chat API, in registration order.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, len(r.order))
	for i, name := range r.order {
		t := r.tools[name]
		defs[i] = domain.ToolDefinition{Name: name, Description: t.Description(), Parameters: t.Parameters()}
	}
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Param describes one property of a tool's JSON Schema parameters.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds the JSON Schema object a tool reports as its parameters.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgsString reads args[key] as text. Non-string values are rendered as JSON.
func ArgsString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
