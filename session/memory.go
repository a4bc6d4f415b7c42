package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolgateway/provider"
)

// MemoryDialer connects to in-process MCP servers registered by provider ID.
// Connection params are ignored.
type MemoryDialer struct {
	mu      sync.RWMutex
	servers map[string]*mcp.Server
}

// NewMemoryDialer returns an empty MemoryDialer.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{servers: make(map[string]*mcp.Server)}
}

// Add registers server under providerID, replacing any previous one.
func (d *MemoryDialer) Add(providerID string, server *mcp.Server) {
	d.mu.Lock()
	d.servers[providerID] = server
	d.mu.Unlock()
}

// Remove unregisters the provider's server. Later dials fail as refused.
func (d *MemoryDialer) Remove(providerID string) {
	d.mu.Lock()
	delete(d.servers, providerID)
	d.mu.Unlock()
}

// Dial connects a fresh in-memory transport pair to the provider's server.
func (d *MemoryDialer) Dial(ctx context.Context, providerID string, _ provider.ConnectionParams) (*mcp.ClientSession, error) {
	d.mu.RLock()
	server, ok := d.servers[providerID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", providerID)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		return nil, err
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "toolgateway"}, nil)
	return client.Connect(ctx, clientTransport, nil)
}
