package dispatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolgateway/registry"
)

// ListTools returns the built-in tools followed by every provider tool under
// its prefixed name. If the registry cannot be refreshed, the last known
// entries are returned and a background refresh is scheduled.
func (d *Dispatcher) ListTools(ctx context.Context) []*mcp.Tool {
	d.ensure(ctx)

	d.mu.RLock()
	tools := make([]*mcp.Tool, 0, len(d.builtinOrder))
	for _, name := range d.builtinOrder {
		t := *d.builtins[name].tool
		tools = append(tools, &t)
	}
	d.mu.RUnlock()

	for _, e := range d.reg.List(registry.KindTool) {
		tools = append(tools, e.ExposedTool())
	}
	return tools
}

// ListResources returns every provider resource. Resources keep their URI.
func (d *Dispatcher) ListResources(ctx context.Context) []*mcp.Resource {
	d.ensure(ctx)
	entries := d.reg.List(registry.KindResource)
	out := make([]*mcp.Resource, 0, len(entries))
	for _, e := range entries {
		r := *e.Resource
		out = append(out, &r)
	}
	return out
}

// ListPrompts returns every provider prompt under its prefixed name.
func (d *Dispatcher) ListPrompts(ctx context.Context) []*mcp.Prompt {
	d.ensure(ctx)
	entries := d.reg.List(registry.KindPrompt)
	out := make([]*mcp.Prompt, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ExposedPrompt())
	}
	return out
}

func (d *Dispatcher) ensure(ctx context.Context) {
	if err := d.disc.Ensure(ctx); err != nil {
		d.log.Warn().Err(err).Msg("capability cache refresh failed, serving last known entries")
		d.disc.RefreshAsync(ctx)
	}
}
