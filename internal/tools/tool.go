package tools

import (
	"context"

	"github.com/fize-ai/soloqueue/internal/providers"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Set is an ordered collection of tools with first-wins name
// deduplication — the composition rule the resolver relies on.
type Set struct {
	ordered []Tool
	byName  map[string]Tool
}

func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool)}
	s.Add(tools...)
	return s
}

// Add appends tools, silently dropping duplicates of existing names.
func (s *Set) Add(tools ...Tool) {
	for _, t := range tools {
		if _, exists := s.byName[t.Name()]; exists {
			continue
		}
		s.byName[t.Name()] = t
		s.ordered = append(s.ordered, t)
	}
}

// Get returns a tool by name, or nil.
func (s *Set) Get(name string) Tool { return s.byName[name] }

// Names returns tool names in registration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.ordered))
	for i, t := range s.ordered {
		out[i] = t.Name()
	}
	return out
}

// Len returns the number of tools.
func (s *Set) Len() int { return len(s.ordered) }

// Defs renders the set as provider tool definitions, in order.
func (s *Set) Defs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, len(s.ordered))
	for i, t := range s.ordered {
		defs[i] = providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		}
	}
	return defs
}
