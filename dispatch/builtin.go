package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolgateway/registry"
)

// Built-in tool names. They never contain the prefix separator, so they
// cannot collide with provider tools.
const (
	BuiltinSearch        = "search_capabilities"
	BuiltinListProviders = "list_providers"
)

// BuiltinHandler executes a built-in tool with the arguments parsed from the
// request.
type BuiltinHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

type builtin struct {
	tool    *mcp.Tool
	handler BuiltinHandler
}

// RegisterBuiltin adds a tool served by the gateway itself. Built-ins skip
// constraint checks and never reach a provider.
func (d *Dispatcher) RegisterBuiltin(tool *mcp.Tool, handler BuiltinHandler) error {
	if tool == nil || tool.Name == "" || handler == nil {
		return fmt.Errorf("builtin: tool name and handler are required")
	}
	if strings.Contains(tool.Name, "__") {
		return fmt.Errorf("builtin %q: name must not contain the prefix separator", tool.Name)
	}
	if tool.InputSchema == nil {
		tool.InputSchema = map[string]any{"type": "object"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.builtins[tool.Name]; exists {
		return fmt.Errorf("builtin %q already registered", tool.Name)
	}
	d.builtins[tool.Name] = builtin{tool: tool, handler: handler}
	d.builtinOrder = append(d.builtinOrder, tool.Name)
	return nil
}

func (d *Dispatcher) registerDefaultBuiltins() {
	_ = d.RegisterBuiltin(&mcp.Tool{
		Name:        BuiltinSearch,
		Description: "Search the tools, resources and prompts of every connected provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Free-text query"},
				"kind":  map[string]any{"type": "string", "enum": []string{"tool", "resource", "prompt"}},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			},
		},
	}, d.searchCapabilities)

	_ = d.RegisterBuiltin(&mcp.Tool{
		Name:        BuiltinListProviders,
		Description: "List connected providers, their prefixes and operating constraints.",
		InputSchema: map[string]any{"type": "object"},
	}, d.listProviders)
}

type searchHit struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Provider    string   `json:"provider"`
	Tags        []string `json:"tags,omitempty"`
	Score       float64  `json:"score"`
}

func (d *Dispatcher) searchCapabilities(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	query, _ := args["query"].(string)
	limit := 10
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		limit = min(int(v), 100)
	}

	results, err := d.reg.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if kind, _ := args["kind"].(string); kind != "" {
		results = results.FilterByKind(registry.CapabilityKind(kind))
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		mt := r.Entry.ModelTool()
		hits = append(hits, searchHit{
			Name:        r.Entry.Name,
			Kind:        string(r.Entry.Kind),
			Description: mt.Description,
			Provider:    mt.Namespace,
			Tags:        mt.Tags,
			Score:       r.Score,
		})
	}
	return jsonResult(map[string]any{"results": hits})
}

type providerInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Prefix      string         `json:"prefix"`
	Status      string         `json:"status"`
	Tools       int            `json:"tools"`
	Resources   int            `json:"resources"`
	Prompts     int            `json:"prompts"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

func (d *Dispatcher) listProviders(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	states := d.disc.Providers()
	out := make([]providerInfo, 0, len(states))
	for _, st := range states {
		status := "available"
		if st.Err != nil {
			status = "unavailable"
		}
		info := providerInfo{
			ID:          st.Provider.ID,
			Name:        st.Provider.Name,
			Description: st.Provider.Description,
			Prefix:      st.Identifier,
			Status:      status,
			Tools:       st.Tools,
			Resources:   st.Resources,
			Prompts:     st.Prompts,
		}
		if !st.Constraints.IsZero() {
			info.Constraints = st.Constraints.Summary()
		}
		out = append(out, info)
	}
	return jsonResult(map[string]any{"providers": out})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: v,
	}, nil
}
