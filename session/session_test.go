package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolgateway/provider"
)

type echoArgs struct {
	Message string `json:"message"`
}

func newEchoServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "echo", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "Echoes back"},
		func(ctx context.Context, req *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: args.Message}}}, nil, nil
		})
	return server
}

// flakyDialer fails the first n dials, then delegates to a MemoryDialer.
type flakyDialer struct {
	failures int32
	calls    atomic.Int32
	inner    *MemoryDialer
}

func (d *flakyDialer) Dial(ctx context.Context, id string, p provider.ConnectionParams) (*mcp.ClientSession, error) {
	n := d.calls.Add(1)
	if n <= d.failures {
		return nil, errors.New("connection refused")
	}
	return d.inner.Dial(ctx, id, p)
}

func newFlaky(failures int32) *flakyDialer {
	inner := NewMemoryDialer()
	inner.Add("echo", newEchoServer())
	return &flakyDialer{failures: failures, inner: inner}
}

var stdioParams = provider.ConnectionParams{Transport: provider.TransportStdio, Command: "echo-server"}

func TestKey(t *testing.T) {
	a := Key("p1", stdioParams)
	assert.Equal(t, a, Key("p1", stdioParams), "stable")
	assert.Contains(t, a, "p1:")

	changed := stdioParams
	changed.Args = []string{"--verbose"}
	assert.NotEqual(t, a, Key("p1", changed))

	withEnv := stdioParams
	withEnv.Env = map[string]string{"B": "2", "A": "1"}
	sameEnv := stdioParams
	sameEnv.Env = map[string]string{"A": "1", "B": "2"}
	assert.Equal(t, Key("p1", withEnv), Key("p1", sameEnv), "map order does not matter")
	assert.NotEqual(t, Key("p1", withEnv), Key("p1", stdioParams))

	assert.NotEqual(t, a, Key("p2", stdioParams))
}

func TestRegistry_GetOrCreateCaches(t *testing.T) {
	dialer := newFlaky(0)
	reg := NewRegistry(Options{Dialer: dialer, Delay: time.Millisecond})
	defer reg.Close()

	ctx := context.Background()
	key := Key("echo", stdioParams)
	c1, err := reg.GetOrCreate(ctx, key, "echo", stdioParams)
	require.NoError(t, err)
	c2, err := reg.GetOrCreate(ctx, key, "echo", stdioParams)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), dialer.calls.Load())

	res, err := c1.CallTool(ctx, "echo", map[string]any{"message": "hi"}, nil)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi", res.Content[0].(*mcp.TextContent).Text)

	tools, err := c1.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.NotNil(t, c1.Capabilities().Tools)
	assert.Nil(t, c1.Capabilities().Resources)
}

func TestRegistry_RetriesThenSucceeds(t *testing.T) {
	dialer := newFlaky(2)
	var observed []error
	reg := NewRegistry(Options{
		Dialer: dialer,
		Delay:  time.Millisecond,
		OnDial: func(_ string, err error) { observed = append(observed, err) },
	})
	defer reg.Close()

	conn, err := reg.GetOrCreate(context.Background(), "k", "echo", stdioParams)
	require.NoError(t, err)
	assert.Equal(t, "echo", conn.ProviderID)
	assert.Equal(t, int32(3), dialer.calls.Load())
	require.Len(t, observed, 3)
	assert.Error(t, observed[0])
	assert.NoError(t, observed[2])
}

func TestRegistry_UnavailableAfterAttempts(t *testing.T) {
	dialer := newFlaky(10)
	reg := NewRegistry(Options{Dialer: dialer, Delay: time.Millisecond})
	defer reg.Close()

	start := time.Now()
	_, err := reg.GetOrCreate(context.Background(), "k", "echo", stdioParams)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "echo")
	assert.Equal(t, int32(3), dialer.calls.Load())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_FixedDelayBetweenAttempts(t *testing.T) {
	dialer := newFlaky(2)
	reg := NewRegistry(Options{Dialer: dialer, Delay: 40 * time.Millisecond})
	defer reg.Close()

	start := time.Now()
	_, err := reg.GetOrCreate(context.Background(), "k", "echo", stdioParams)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRegistry_ConcurrentCallersShareDial(t *testing.T) {
	dialer := newFlaky(0)
	reg := NewRegistry(Options{Dialer: dialer, Delay: time.Millisecond})
	defer reg.Close()

	var wg sync.WaitGroup
	conns := make([]*Connection, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := reg.GetOrCreate(context.Background(), "k", "echo", stdioParams)
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), dialer.calls.Load())
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
}

func TestRegistry_InvalidateAndRetain(t *testing.T) {
	dialer := newFlaky(0)
	reg := NewRegistry(Options{Dialer: dialer, Delay: time.Millisecond})
	defer reg.Close()
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "a", "echo", stdioParams)
	require.NoError(t, err)
	_, err = reg.GetOrCreate(ctx, "b", "echo", stdioParams)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	reg.Invalidate("a")
	reg.Invalidate("a")
	assert.Equal(t, 1, reg.Len())

	_, err = reg.GetOrCreate(ctx, "a", "echo", stdioParams)
	require.NoError(t, err)
	assert.Equal(t, int32(3), dialer.calls.Load())

	closed := reg.Retain(map[string]bool{"b": true})
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_CloseAllReconnects(t *testing.T) {
	dialer := newFlaky(0)
	reg := NewRegistry(Options{Dialer: dialer, Delay: time.Millisecond})
	defer reg.Close()
	ctx := context.Background()

	first, err := reg.GetOrCreate(ctx, "k", "echo", stdioParams)
	require.NoError(t, err)

	require.NoError(t, reg.CloseAll())
	assert.Equal(t, 0, reg.Len())

	second, err := reg.GetOrCreate(ctx, "k", "echo", stdioParams)
	require.NoError(t, err, "the registry stays usable after CloseAll")
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), dialer.calls.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry(Options{Dialer: newFlaky(0), Delay: time.Millisecond})
	_, err := reg.GetOrCreate(context.Background(), "k", "echo", stdioParams)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	assert.Equal(t, 0, reg.Len())

	_, err = reg.GetOrCreate(context.Background(), "k", "echo", stdioParams)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMCPDialer_Transport(t *testing.T) {
	d := MCPDialer{HTTPTimeout: time.Second}

	tr, err := d.Transport(stdioParams)
	require.NoError(t, err)
	cmd, ok := tr.(*mcp.CommandTransport)
	require.True(t, ok)
	assert.Equal(t, "echo-server", cmd.Command.Args[0])

	tr, err = d.Transport(provider.ConnectionParams{Transport: provider.TransportHTTP, URL: "http://localhost/mcp"})
	require.NoError(t, err)
	streamable, ok := tr.(*mcp.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "http://localhost/mcp", streamable.Endpoint)
	assert.Equal(t, time.Second, streamable.HTTPClient.Timeout)

	tr, err = d.Transport(provider.ConnectionParams{Transport: provider.TransportSSE, URL: "http://localhost/sse"})
	require.NoError(t, err)
	_, ok = tr.(*mcp.SSEClientTransport)
	assert.True(t, ok)

	_, err = d.Transport(provider.ConnectionParams{Transport: "carrier-pigeon"})
	assert.ErrorIs(t, err, provider.ErrInvalidProvider)
}

func TestMCPDialer_StdioEnv(t *testing.T) {
	params := stdioParams
	params.Env = map[string]string{"TOKEN": "abc"}
	tr, err := MCPDialer{}.Transport(params)
	require.NoError(t, err)
	assert.Contains(t, tr.(*mcp.CommandTransport).Command.Env, "TOKEN=abc")
}

func TestHeaderRoundTripper(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := httpClientWithHeaders(map[string]string{"Authorization": "Bearer x", " ": "skip", "X-Keep": "default"}, 0)
	require.NotNil(t, client)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Keep", "caller")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer x", got.Get("Authorization"))
	assert.Equal(t, "caller", got.Get("X-Keep"))
	assert.Nil(t, httpClientWithHeaders(nil, 0))
}
