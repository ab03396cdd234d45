// Package tools provides the tool registry consulted by the agentic
// executor and the built-in tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Tool is one capability the executor can invoke. Execute reports
// failures as errors; the executor turns them into observations.
type Tool interface {
	Name() string
	Description() string
	// Args is a short schema hint shown to the oracle.
	Args() string
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Spec is the manifest entry for a tool.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Args        string `json:"args"`
}

// Normalize lowercases name and drops everything that is not a letter, so
// "Web_Fetch", "web-fetch" and "webfetch" all resolve to the same tool.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Registry manages registered tools keyed by normalized name.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names that normalize to the same key collide.
func (r *Registry) Register(t Tool) error {
	key := Normalize(t.Name())
	if key == "" {
		return fmt.Errorf("tool name %q has no letters", t.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[key]; ok {
		return fmt.Errorf("tool %q collides with %q", t.Name(), existing.Name())
	}
	r.tools[key] = t
	return nil
}

// Lookup finds a tool by any spelling that normalizes to its name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[Normalize(name)]
	return t, ok
}

// Manifest returns tool specs sorted by name.
func (r *Registry) Manifest() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, Spec{Name: t.Name(), Description: t.Description(), Args: t.Args()})
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Func is a Tool built from plain values.
type Func struct {
	ToolName string
	Desc     string
	ArgsHint string
	Fn       func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (f *Func) Name() string { return f.ToolName }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Args() string { return f.ArgsHint }

func (f *Func) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f.Fn(ctx, args)
}

// StringArg reads args[key] as a string, formatting non-string scalars.
func StringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// IntArg reads args[key] as an int, falling back to def.
func IntArg(args map[string]any, key string, def int) int {
	switch x := args[key].(type) {
	case float64:
		return int(x)
	case int:
		return x
	case string:
		var n int
		if _, err := fmt.Sscanf(x, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
