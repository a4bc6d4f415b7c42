package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/toolgateway/transport"
)

// HTTP headers.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"
	HeaderAPIKey          = "X-API-Key"
)

// HTTP defaults.
const (
	DefaultPath         = "/mcp"
	DefaultMaxBodyBytes = 4 << 20
	DefaultKeepAlive    = 25 * time.Second
)

// HTTPOptions configures Handler.
type HTTPOptions struct {
	// Path serves the MCP endpoint. Default: /mcp.
	Path string
	// Sessions holds client sessions. Nil means a stateless manager.
	Sessions *transport.Manager
	// APIKey, when set, must be presented as a bearer token or X-API-Key.
	APIKey string
	// MaxBodyBytes caps request bodies. Default: 4 MiB.
	MaxBodyBytes int64
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// KeepAlive is the comment interval on event streams. Default: 25s.
	KeepAlive time.Duration
}

type httpHandler struct {
	s    *Server
	opts HTTPOptions
}

// Handler returns the HTTP surface: the MCP endpoint, /health and,
// optionally, /metrics.
func (s *Server) Handler(opts HTTPOptions) http.Handler {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Sessions == nil {
		opts.Sessions = transport.NewManager(transport.Options{Mode: transport.ModeStateless})
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	h := &httpHandler{s: s, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.health)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc(opts.Path, h.mcp)
	return mux
}

// NotifyListChanged queues list-changed notifications on every open
// session stream.
func NotifyListChanged(sessions *transport.Manager) int {
	sent := 0
	for _, n := range ListChangedNotifications() {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		sent += sessions.Broadcast(data)
	}
	return sent
}

func (h *httpHandler) mcp(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse(nil, ErrCodeUnauthorized, "unauthorized"))
		return
	}
	if v := r.Header.Get(HeaderProtocolVersion); v != "" && !h.s.SupportsVersion(v) {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported protocol version %q", v)))
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.post(w, r)
	case http.MethodGet:
		h.stream(w, r)
	case http.MethodDelete:
		h.terminate(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *httpHandler) authorized(r *http.Request) bool {
	if h.opts.APIKey == "" {
		return true
	}
	key := r.Header.Get(HeaderAPIKey)
	if auth := r.Header.Get("Authorization"); key == "" && auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			key = strings.TrimSpace(token)
		}
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.APIKey)) == 1
}

func (h *httpHandler) post(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	var req MCPRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, ErrCodeInvalidRequest, "request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, ErrCodeParseError, "parse error"))
		return
	}

	mgr := h.opts.Sessions
	if mgr.Mode() == transport.ModeStateless {
		sess := mgr.Ephemeral()
		defer mgr.Release(sess)
		h.respond(w, transport.WithSession(r.Context(), sess), req)
		return
	}

	id := r.Header.Get(HeaderSessionID)
	if id == "" && req.Method != "initialize" {
		writeJSON(w, http.StatusBadRequest, errorResponse(req.ID, ErrCodeInvalidRequest, "missing "+HeaderSessionID+" header"))
		return
	}
	sess, created, err := mgr.Acquire(id)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, transport.ErrShutdown) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse(req.ID, ErrCodeInvalidRequest, err.Error()))
		return
	}
	if created {
		h.s.log.Debug().Str("session", sess.ID).Msg("client session opened")
	}
	w.Header().Set(HeaderSessionID, sess.ID)
	h.respond(w, transport.WithSession(r.Context(), sess), req)
}

func (h *httpHandler) respond(w http.ResponseWriter, ctx context.Context, req MCPRequest) {
	resp := h.s.HandleRequest(ctx, req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stream holds a server-to-client event stream open for a stateful session
// until the client goes away or the session ends.
func (h *httpHandler) stream(w http.ResponseWriter, r *http.Request) {
	mgr := h.opts.Sessions
	if mgr.Mode() == transport.ModeStateless {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := mgr.Lookup(r.Header.Get(HeaderSessionID))
	if err != nil {
		h.sessionError(w, err)
		return
	}
	st, ok := sess.Stream()
	if !ok {
		http.Error(w, "Streaming not supported for this session", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(HeaderSessionID, sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-st.Done():
			return
		case msg := <-st.Events():
			writeSSEEvent(w, flusher, "message", msg)
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *httpHandler) terminate(w http.ResponseWriter, r *http.Request) {
	mgr := h.opts.Sessions
	if mgr.Mode() == transport.ModeStateless {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.Header.Get(HeaderSessionID)
	if !transport.ValidSessionID(id) {
		h.sessionError(w, transport.ErrInvalidSessionID)
		return
	}
	mgr.Terminate(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *httpHandler) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transport.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(nil, ErrCodeInvalidRequest, "session not found"))
	case errors.Is(err, transport.ErrShutdown):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(nil, ErrCodeInvalidRequest, "shutting down"))
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, ErrCodeInvalidRequest, "missing or invalid "+HeaderSessionID+" header"))
	}
}

type healthStatus struct {
	Status          string `json:"status"`
	Mode            string `json:"mode"`
	Sessions        int    `json:"sessions"`
	MaxSessions     int    `json:"maxSessions,omitempty"`
	Providers       int    `json:"providers"`
	Tools           int    `json:"tools"`
	Resources       int    `json:"resources"`
	Prompts         int    `json:"prompts"`
	RegistryVersion uint64 `json:"registryVersion"`
	LastError       string `json:"lastError,omitempty"`
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	disc := h.s.d.Discovery()
	stats := disc.Registry().Stats()
	mgr := h.opts.Sessions
	status := healthStatus{
		Status:          "ok",
		Mode:            string(mgr.Mode()),
		Sessions:        mgr.Len(),
		Providers:       stats.Providers,
		Tools:           stats.Tools,
		Resources:       stats.Resources,
		Prompts:         stats.Prompts,
		RegistryVersion: stats.Version,
	}
	if mgr.Mode() == transport.ModeStateful {
		status.MaxSessions = mgr.MaxSessions()
	}
	if err := disc.LastError(); err != nil {
		status.Status = "degraded"
		status.LastError = "discovery failed"
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, event string, data []byte) {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	f.Flush()
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully within the timeout.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
