// Package tools provides the registry of functions the model can call
// during a generation turn.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
)

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  string // JSON Schema string
}

// Executor runs one tool call. Arguments arrive as the raw JSON string
// produced by the model; the returned string is fed back verbatim as
// the tool message content.
type Executor func(ctx context.Context, arguments string) (string, error)

type entry struct {
	definition Definition
	execute    Executor
}

// Registry holds the tools available to a generation turn.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. Later registrations with the same name replace
// earlier ones.
func (r *Registry) Register(definition Definition, execute Executor) {
	r.entries[definition.Name] = entry{definition: definition, execute: execute}
}

// Definitions returns the registered tool descriptors in name order.
func (r *Registry) Definitions() []Definition {
	list := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.definition)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Dispatch executes the named tool and returns its raw result string.
// It never fails: unknown tools and executor errors both produce an
// error result payload, so the model always receives a tool message.
func (r *Registry) Dispatch(ctx context.Context, name, arguments string) string {
	e, ok := r.entries[name]
	if !ok {
		slog.Warn("unknown tool requested", "tool", name)
		return errorResult("unknown tool: " + name)
	}

	result, err := e.execute(ctx, arguments)
	if err != nil {
		slog.Warn("tool execution failed", "tool", name, "error", err)
		return errorResult(err.Error())
	}
	return result
}

func errorResult(message string) string {
	raw, err := json.Marshal(ErrorResult{Error: message})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(raw)
}
