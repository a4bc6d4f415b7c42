package session

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Connection is a live client session to one provider.
type Connection struct {
	ProviderID string
	Key        string
	Created    time.Time

	session *mcp.ClientSession
}

// Session returns the underlying client session.
func (c *Connection) Session() *mcp.ClientSession { return c.session }

// Capabilities returns what the provider advertised during initialize.
// The result is never nil.
func (c *Connection) Capabilities() *mcp.ServerCapabilities {
	if res := c.session.InitializeResult(); res != nil && res.Capabilities != nil {
		return res.Capabilities
	}
	return &mcp.ServerCapabilities{}
}

// ListTools returns every tool, following pagination.
func (c *Connection) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var out []*mcp.Tool
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		if tool != nil {
			out = append(out, tool)
		}
	}
	return out, nil
}

// ListResources returns every resource, following pagination.
func (c *Connection) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	var out []*mcp.Resource
	for res, err := range c.session.Resources(ctx, nil) {
		if err != nil {
			return nil, err
		}
		if res != nil {
			out = append(out, res)
		}
	}
	return out, nil
}

// ListPrompts returns every prompt, following pagination.
func (c *Connection) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	var out []*mcp.Prompt
	for p, err := range c.session.Prompts(ctx, nil) {
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// CallTool forwards a tool call using the provider's own tool name.
func (c *Connection) CallTool(ctx context.Context, name string, args any, meta mcp.Meta) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, &mcp.CallToolParams{Meta: meta, Name: name, Arguments: args})
}

// ReadResource forwards a resource read.
func (c *Connection) ReadResource(ctx context.Context, uri string, meta mcp.Meta) (*mcp.ReadResourceResult, error) {
	return c.session.ReadResource(ctx, &mcp.ReadResourceParams{Meta: meta, URI: uri})
}

// GetPrompt forwards a prompt fetch using the provider's own prompt name.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]string, meta mcp.Meta) (*mcp.GetPromptResult, error) {
	return c.session.GetPrompt(ctx, &mcp.GetPromptParams{Meta: meta, Name: name, Arguments: args})
}

// Close ends the client session.
func (c *Connection) Close() error {
	return c.session.Close()
}
