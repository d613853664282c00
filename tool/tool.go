package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/sweetpotato0/taskpilot/errors"
)

// Handler executes one natural-language sub-query against a domain backend.
// deps carries the raw results of the steps this invocation depends on,
// keyed by step id.
type Handler func(ctx context.Context, subQuery string, deps map[string]string) (string, error)

// Tool represents one domain capability (mail, calendar, tasks, search).
// The engine only knows this contract plus the declared name used for routing.
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"` // Routing hints for the query analyzer
	Mutating    bool     `json:"mutating"`           // True for send/create/update/delete actions
	Handler     Handler  `json:"-"`
}

// Execute runs the tool for a single step.
func (t *Tool) Execute(ctx context.Context, subQuery string, deps map[string]string) (string, error) {
	if t.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", t.Name)
	}
	return t.Handler(ctx, subQuery, deps)
}

// Registry manages the set of domain tools available to the engine.
// All operations are thread-safe using RWMutex protection.
type Registry struct {
	mu    sync.RWMutex // Protects tools map
	tools map[string]*Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty: %w", pkgerrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s: %w", tool.Name, pkgerrors.ErrAlreadyExists)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Upsert adds or replaces a tool definition in the registry.
func (r *Registry) Upsert(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty: %w", pkgerrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]*Tool)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", name, pkgerrors.ErrToolNotFound)
	}
	return tool, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// IsMutating reports whether the named tool performs a mutating action.
// Unknown tools are treated as mutating so the autonomy gate stays on the
// conservative side.
func (r *Registry) IsMutating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return true
	}
	return tool.Mutating
}

// Execute runs a tool by name for a single step.
func (r *Registry) Execute(ctx context.Context, name, subQuery string, deps map[string]string) (string, error) {
	tool, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return tool.Execute(ctx, subQuery, deps)
}

type ctxKey int

const maxResultsKey ctxKey = iota

// WithMaxResults returns a context carrying the caller's result-count hint.
// Hints of zero or less leave the context unchanged.
func WithMaxResults(ctx context.Context, n int) context.Context {
	if n <= 0 {
		return ctx
	}
	return context.WithValue(ctx, maxResultsKey, n)
}

// MaxResults extracts the result-count hint for the current request, or 0
// when the caller did not set one. Handlers that return lists should cap
// their output accordingly.
func MaxResults(ctx context.Context) int {
	n, _ := ctx.Value(maxResultsKey).(int)
	return n
}
