package session

import "errors"

// Sentinel errors for consistent error handling.
var (
	ErrUnavailable = errors.New("provider unavailable")
	ErrClosed      = errors.New("session registry closed")
	ErrNoSession   = errors.New("no session for key")
)
