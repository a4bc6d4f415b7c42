package server

import (
	"errors"

	"github.com/jonwraymond/toolgateway/resilience"
)

// ErrNoDispatcher is returned by New without a dispatcher.
var ErrNoDispatcher = errors.New("server: dispatcher is required")

// JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeApplication    = -32000
	ErrCodeUnauthorized   = -32001
)

// codeFor maps a failure category to its wire code.
func codeFor(c resilience.Category) int {
	switch c {
	case resilience.CategoryValidation:
		return ErrCodeInvalidParams
	case resilience.CategoryAuthentication:
		return ErrCodeUnauthorized
	default:
		return ErrCodeApplication
	}
}

// errorFrom converts a dispatcher error into a wire error. Only the public
// message crosses the boundary.
func errorFrom(err error) *MCPError {
	pub := resilience.Public(err)
	return &MCPError{
		Code:    codeFor(pub.Category),
		Message: pub.Message,
		Data:    map[string]any{"category": pub.Category},
	}
}
