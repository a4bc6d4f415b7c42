package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolgateway/provider"
)

// Dialer opens a client session to a provider. A dialer may return a
// partially opened session together with an error; the registry closes it.
type Dialer interface {
	Dial(ctx context.Context, providerID string, params provider.ConnectionParams) (*mcp.ClientSession, error)
}

// MCPDialer dials real providers over stdio, streamable HTTP or SSE.
type MCPDialer struct {
	// ClientName is announced to providers during initialize.
	ClientName    string
	ClientVersion string
	// HTTPTimeout bounds individual HTTP requests. Zero means no limit.
	HTTPTimeout time.Duration
	// MaxRetries is passed to the streamable HTTP transport.
	MaxRetries int
}

// Dial connects and pings the provider.
func (d MCPDialer) Dial(ctx context.Context, providerID string, params provider.ConnectionParams) (*mcp.ClientSession, error) {
	transport, err := d.Transport(params)
	if err != nil {
		return nil, err
	}

	name := d.ClientName
	if name == "" {
		name = "toolgateway"
	}
	client := mcp.NewClient(&mcp.Implementation{Name: name, Version: d.ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", providerID, err)
	}
	if err := session.Ping(ctx, nil); err != nil {
		return session, fmt.Errorf("ping %s: %w", providerID, err)
	}
	return session, nil
}

// Transport builds the MCP client transport for params.
func (d MCPDialer) Transport(params provider.ConnectionParams) (mcp.Transport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	switch params.Transport {
	case provider.TransportStdio:
		cmd := exec.Command(params.Command, params.Args...)
		if len(params.Env) > 0 {
			cmd.Env = append(os.Environ(), envList(params.Env)...)
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case provider.TransportHTTP:
		return &mcp.StreamableClientTransport{
			Endpoint:   params.URL,
			HTTPClient: httpClientWithHeaders(params.Headers, d.HTTPTimeout),
			MaxRetries: d.MaxRetries,
		}, nil
	case provider.TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   params.URL,
			HTTPClient: httpClientWithHeaders(params.Headers, d.HTTPTimeout),
		}, nil
	default:
		return nil, errors.New("unsupported transport")
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func httpClientWithHeaders(headers map[string]string, timeout time.Duration) *http.Client {
	clone := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		clone[k] = v
	}
	if len(clone) == 0 && timeout == 0 {
		return nil
	}
	client := &http.Client{Timeout: timeout}
	if len(clone) > 0 {
		client.Transport = &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: clone,
		}
	}
	return client
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := h.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	for key, value := range h.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	return base.RoundTrip(req)
}
