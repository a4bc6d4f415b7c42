package dispatch

import (
	"errors"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolgateway/resilience"
	"github.com/jonwraymond/toolgateway/session"
)

// providerError classifies an error returned by a provider session.
// JSON-RPC errors are protocol answers, not transport failures, so they
// map to client-side categories and are never retried.
func providerError(err error) error {
	if err == nil {
		return nil
	}
	var ce *resilience.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, session.ErrUnavailable) {
		return resilience.NewError(resilience.CategoryNetwork, "No session available for the provider", err)
	}
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		switch wire.Code {
		case jsonrpc.CodeInvalidParams, jsonrpc.CodeInvalidRequest, jsonrpc.CodeParseError:
			return resilience.NewError(resilience.CategoryValidation, "", err)
		case jsonrpc.CodeMethodNotFound:
			return resilience.NewError(resilience.CategoryClientError, "", err)
		case mcp.CodeResourceNotFound:
			return resilience.NewError(resilience.CategoryResourceNotFound, "", err)
		case jsonrpc.CodeInternalError:
			return resilience.NewError(resilience.CategoryServerError, "", err)
		default:
			return resilience.NewError(resilience.CategoryClientError, "", err)
		}
	}
	return err
}

// transportBroken reports whether err suggests the session itself is dead.
func transportBroken(err error) bool {
	switch resilience.Classify(err) {
	case resilience.CategoryNetwork, resilience.CategoryTimeout:
		return !errors.Is(err, session.ErrUnavailable)
	}
	return false
}

// retryable reports whether a failed forward may be repeated. Protocol
// answers from the provider and exhausted dials are final.
func retryable(err error) bool {
	if errors.Is(err, session.ErrUnavailable) {
		return false
	}
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return false
	}
	return resilience.Retryable(resilience.Classify(err))
}
