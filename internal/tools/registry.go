package tools

import (
	"context"
	"sort"

	"github.com/sandboxagent/core/internal/llm"
)

// Tool is the executable unit dispatched by the turn loop (§4.4).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the closed set of tools available to a turn, filtered
// per-turn by the allowed-tools list carried on the TurnRequest.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns wire ToolDefinitions for the named subset, or all
// registered tools when names is nil.
func (r *Registry) Definitions(names []string) []llm.ToolDefinition {
	var selected []Tool
	if names == nil {
		for _, t := range r.tools {
			selected = append(selected, t)
		}
	} else {
		for _, n := range names {
			if t, ok := r.tools[n]; ok {
				selected = append(selected, t)
			}
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name() < selected[j].Name() })

	defs := make([]llm.ToolDefinition, 0, len(selected))
	for _, t := range selected {
		defs = append(defs, llm.ToolDefinition{
			Type: "function",
			Function: llm.ToolDefFuncion{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
