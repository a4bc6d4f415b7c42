package transport

import "context"

type sessionKey struct{}

// WithSession returns a context carrying the client session serving a request.
func WithSession(ctx context.Context, s *ClientSession) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the client session bound by WithSession.
func SessionFromContext(ctx context.Context) (*ClientSession, bool) {
	s, ok := ctx.Value(sessionKey{}).(*ClientSession)
	return s, ok && s != nil
}
