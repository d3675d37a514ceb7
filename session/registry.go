package session

import (
	"fmt"
	"sort"
	"sync"
)

// Tool is a tool as advertised by the connected server's tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolRegistry caches the most recent tools/list result of one session.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
	mu    sync.RWMutex
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Replace swaps the registry contents for tools, keeping the server's order.
// Duplicate names are rejected and leave the registry unchanged.
func (tr *ToolRegistry) Replace(tools []Tool) error {
	next := make(map[string]Tool, len(tools))
	order := make([]string, 0, len(tools))
	for _, tool := range tools {
		if _, exists := next[tool.Name]; exists {
			return fmt.Errorf("tool name collision: %s advertised twice", tool.Name)
		}
		next[tool.Name] = tool
		order = append(order, tool.Name)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tools = next
	tr.order = order
	return nil
}

func (tr *ToolRegistry) Get(name string) (Tool, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	tool, exists := tr.tools[name]
	if !exists {
		return Tool{}, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// List returns the registered tools in advertised order.
func (tr *ToolRegistry) List() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]Tool, 0, len(tr.order))
	for _, name := range tr.order {
		out = append(out, tr.tools[name])
	}
	return out
}

// Names returns the registered tool names sorted alphabetically.
func (tr *ToolRegistry) Names() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tools))
	for name := range tr.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (tr *ToolRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tools)
}
