package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgateway/dispatch"
	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/provider"
	"github.com/jonwraymond/toolgateway/resilience"
)

// CategoryAPICall is the rate limit category of backend calls.
const CategoryAPICall = "api_call"

// Defaults.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "toolgateway/1.0"
	maxErrorBody     = 512
)

// Backend paths.
const (
	PathServers      = "/api/mcp/servers"
	PathInstructions = "/api/mcp/instructions"
	PathActivity     = "/api/mcp/activity"
)

// ErrNoBaseURL is returned by NewClient without a base URL.
var ErrNoBaseURL = errors.New("platform: base url is required")

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration
	// Limits rate-limits calls under CategoryAPICall. Nil means unlimited.
	Limits     *resilience.LimiterSet
	Retry      resilience.Policy
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client represents a platform REST client.
type Client struct {
	opts       Options
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new platform client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Limits == nil {
		opts.Limits = resilience.NewLimiterSet(nil, nil)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		opts:       opts,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		log:        logging.Component(opts.Logger, "platform"),
	}, nil
}

// Server is an MCP server record as stored by the backend.
type Server struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Version      string            `json:"version,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Transport    string            `json:"transport"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	URL          string            `json:"url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Enabled      *bool             `json:"enabled,omitempty"`
}

// Provider converts the record. A nil Enabled counts as enabled.
func (s Server) Provider() (provider.Provider, bool) {
	if s.Enabled != nil && !*s.Enabled {
		return provider.Provider{}, false
	}
	return provider.Provider{
		ID:           s.ID,
		Name:         s.Name,
		Description:  s.Description,
		Version:      s.Version,
		Instructions: s.Instructions,
		Params: provider.ConnectionParams{
			Transport: provider.TransportKind(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
		},
	}, true
}

type serversResponse struct {
	Servers []Server `json:"servers"`
}

// ListServers returns every server record.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out serversResponse
	if err := c.call(ctx, http.MethodGet, PathServers, nil, &out); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return out.Servers, nil
}

// ListProviders implements provider.Catalog. Disabled servers and servers
// with invalid connection params are skipped.
func (c *Client) ListProviders(ctx context.Context) ([]provider.Provider, error) {
	servers, err := c.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Provider, 0, len(servers))
	for _, s := range servers {
		p, ok := s.Provider()
		if !ok {
			continue
		}
		if err := p.Params.Validate(); err != nil {
			c.log.Warn().Str("provider", s.ID).Err(err).Msg("skipping server with invalid connection params")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type instructionsResponse struct {
	Instructions string `json:"instructions"`
}

// Instructions returns the custom instruction text for clients.
func (c *Client) Instructions(ctx context.Context) (string, error) {
	var out instructionsResponse
	if err := c.call(ctx, http.MethodGet, PathInstructions, nil, &out); err != nil {
		return "", fmt.Errorf("instructions: %w", err)
	}
	return out.Instructions, nil
}

// ActivityRecord is the wire form of one dispatched request.
type ActivityRecord struct {
	Operation  string `json:"operation"`
	Capability string `json:"capability"`
	ProviderID string `json:"providerId,omitempty"`
	Success    bool   `json:"success"`
	Category   string `json:"category,omitempty"`
	ElapsedMS  int64  `json:"elapsedMs"`
	Timestamp  string `json:"timestamp"`
}

// LogActivity implements dispatch.ActivityLogger.
func (c *Client) LogActivity(ctx context.Context, a dispatch.Activity) error {
	rec := ActivityRecord{
		Operation:  string(a.Operation),
		Capability: a.Capability,
		ProviderID: a.ProviderID,
		Success:    a.Success,
		Category:   string(a.Category),
		ElapsedMS:  a.Elapsed.Milliseconds(),
		Timestamp:  a.At.UTC().Format(time.RFC3339Nano),
	}
	if err := c.call(ctx, http.MethodPost, PathActivity, rec, nil); err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// call performs one rate-limited, retried request and decodes the JSON
// response into out when out is non-nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if !c.opts.Limits.Allow(CategoryAPICall) {
		return resilience.NewError(resilience.CategoryRateLimit, "", resilience.ErrRateLimitExceeded)
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return resilience.Retry(ctx, c.opts.Retry, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		resp, err := c.doRequest(ctx, method, path, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &resilience.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resilience.NewError(resilience.CategoryServerError, "", fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	return c.httpClient.Do(req)
}
