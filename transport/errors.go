package transport

import "errors"

var (
	// ErrInvalidSessionID is returned for IDs that are empty, too long or
	// contain characters outside visible ASCII.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionNotFound is returned by Lookup for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStateless is returned by Acquire when the manager runs stateless.
	ErrStateless = errors.New("session manager is stateless")

	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("session manager is shut down")
)
