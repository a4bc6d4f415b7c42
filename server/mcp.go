package server

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgateway/dispatch"
	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/transport"
)

// MCPRequest represents an incoming MCP JSON-RPC request. A request without
// an ID is a notification and gets no response.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r MCPRequest) IsNotification() bool { return r.ID == nil }

// MCPResponse represents an MCP JSON-RPC response.
type MCPResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *MCPError `json:"error,omitempty"`
}

// MCPError is a JSON-RPC error object.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// MCPNotification is a server-to-client notification.
type MCPNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Info identifies the gateway to clients.
type Info struct {
	Name    string
	Version string
}

// InstructionsFunc supplies the instructions text returned by initialize.
type InstructionsFunc func(ctx context.Context) (string, error)

// DefaultInstructionsTimeout bounds InstructionsFunc.
const DefaultInstructionsTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Info       Info
	// Instructions is returned by initialize when InstructionsFunc is nil
	// or fails.
	Instructions     string
	InstructionsFunc InstructionsFunc
	// ProtocolVersions lists accepted protocol versions, preferred first.
	// Default: SupportedProtocolVersions().
	ProtocolVersions []string
	Logger           zerolog.Logger
}

// SupportedProtocolVersions returns the protocol versions the gateway
// speaks, newest first.
func SupportedProtocolVersions() []string {
	versions := []string{string(model.MCPVersion), "2025-06-18", "2025-03-26", "2024-11-05"}
	out := versions[:0]
	for _, v := range versions {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Server answers MCP requests by delegating to a dispatcher.
type Server struct {
	opts Options
	d    *dispatch.Dispatcher
	log  zerolog.Logger
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if opts.Info.Name == "" {
		opts.Info.Name = "toolgateway"
	}
	if len(opts.ProtocolVersions) == 0 {
		opts.ProtocolVersions = SupportedProtocolVersions()
	}
	return &Server{
		opts: opts,
		d:    opts.Dispatcher,
		log:  logging.Component(opts.Logger, "server"),
	}, nil
}

// SupportsVersion reports whether v is an accepted protocol version.
func (s *Server) SupportsVersion(v string) bool {
	return slices.Contains(s.opts.ProtocolVersions, v)
}

// HandleRequest processes an MCP request and returns a response. The
// response of a notification should be discarded.
func (s *Server) HandleRequest(ctx context.Context, req MCPRequest) MCPResponse {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, ErrCodeInvalidRequest, "invalid JSON-RPC request")
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(ctx, req.ID, req.Params)
	case "notifications/initialized", "notifications/cancelled":
		return resultResponse(req.ID, struct{}{})
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": s.d.ListTools(ctx)})
	case "tools/call":
		return s.handleToolsCall(ctx, req.ID, req.Params)
	case "resources/list":
		return resultResponse(req.ID, map[string]any{"resources": s.d.ListResources(ctx)})
	case "resources/read":
		return s.handleResourcesRead(ctx, req.ID, req.Params)
	case "prompts/list":
		return resultResponse(req.ID, map[string]any{"prompts": s.d.ListPrompts(ctx)})
	case "prompts/get":
		return s.handlePromptsGet(ctx, req.ID, req.Params)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %s not found", req.Method))
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (s *Server) handleInitialize(ctx context.Context, id any, params json.RawMessage) MCPResponse {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return errorResponse(id, ErrCodeInvalidParams, "invalid initialize params")
		}
	}

	version := s.opts.ProtocolVersions[0]
	if s.SupportsVersion(p.ProtocolVersion) {
		version = p.ProtocolVersion
	}
	ev := s.log.Info()
	if sess, ok := transport.SessionFromContext(ctx); ok {
		ev = ev.Str("session", sess.ID)
	}
	ev.Str("client", p.ClientInfo.Name).
		Str("client_version", p.ClientInfo.Version).
		Str("protocol", version).
		Msg("client initialized")

	result := map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
			"prompts":   map[string]any{"listChanged": true},
		},
		"serverInfo": map[string]any{
			"name":    s.opts.Info.Name,
			"version": s.opts.Info.Version,
		},
	}
	if text := s.instructions(ctx); text != "" {
		result["instructions"] = text
	}
	return resultResponse(id, result)
}

func (s *Server) instructions(ctx context.Context) string {
	if s.opts.InstructionsFunc == nil {
		return s.opts.Instructions
	}
	ictx, cancel := context.WithTimeout(ctx, DefaultInstructionsTimeout)
	defer cancel()
	text, err := s.opts.InstructionsFunc(ictx)
	if err != nil {
		s.log.Warn().Err(err).Msg("instructions unavailable")
		return s.opts.Instructions
	}
	return text
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, id any, params json.RawMessage) MCPResponse {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, "invalid tools/call params")
	}
	result, err := s.d.CallTool(ctx, p.Name, p.Arguments)
	if err != nil {
		return MCPResponse{JSONRPC: "2.0", ID: id, Error: errorFrom(err)}
	}
	return resultResponse(id, result)
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleResourcesRead(ctx context.Context, id any, params json.RawMessage) MCPResponse {
	var p resourcesReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, "invalid resources/read params")
	}
	result, err := s.d.ReadResource(ctx, p.URI)
	if err != nil {
		return MCPResponse{JSONRPC: "2.0", ID: id, Error: errorFrom(err)}
	}
	return resultResponse(id, result)
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (s *Server) handlePromptsGet(ctx context.Context, id any, params json.RawMessage) MCPResponse {
	var p promptsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, "invalid prompts/get params")
	}
	result, err := s.d.GetPrompt(ctx, p.Name, p.Arguments)
	if err != nil {
		return MCPResponse{JSONRPC: "2.0", ID: id, Error: errorFrom(err)}
	}
	return resultResponse(id, result)
}

func resultResponse(id any, result any) MCPResponse {
	return MCPResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, code int, msg string) MCPResponse {
	return MCPResponse{JSONRPC: "2.0", ID: id, Error: &MCPError{Code: code, Message: msg}}
}

// ListChangedNotifications returns the notifications sent after the
// capability registry is rebuilt.
func ListChangedNotifications() []MCPNotification {
	return []MCPNotification{
		{JSONRPC: "2.0", Method: "notifications/tools/list_changed"},
		{JSONRPC: "2.0", Method: "notifications/resources/list_changed"},
		{JSONRPC: "2.0", Method: "notifications/prompts/list_changed"},
	}
}
