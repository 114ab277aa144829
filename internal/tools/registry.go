package tools

import (
	"sync"

	"github.com/meghx-ai/meghx/internal/llm"
)

// Capability classifies what a tool may do to user data.
const (
	CapabilityRead  = "read"
	CapabilityWrite = "write"
)

// Tool is a registry entry: a model-facing definition plus its capability.
type Tool struct {
	Name       string
	Capability string
	Definition llm.ToolDefinition
}

// Registry holds the tools currently available to the engine. Version moves
// on every Refresh; callers re-resolve their allowed tool set whenever the
// version they cached is stale.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Tool
	version int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Refresh replaces the registered tool set and bumps the version.
func (r *Registry) Refresh(tools []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]Tool, len(tools))
	for _, t := range tools {
		r.byName[t.Name] = t
	}
	r.version++
}

// Version returns the current registry version.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// All returns every registered tool.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	return out
}

// GetByNames returns the registered tools for the given names, skipping
// unknown ones.
func (r *Registry) GetByNames(names []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.byName[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Definitions extracts the model-facing definitions from a tool slice.
func Definitions(ts []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, t.Definition)
	}
	return defs
}
