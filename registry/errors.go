package registry

import "errors"

// Sentinel errors for consistent error handling.
var (
	ErrNotFound         = errors.New("capability not found")
	ErrInvalidEntry     = errors.New("invalid registry entry")
	ErrIndexUnavailable = errors.New("search index unavailable")
)
