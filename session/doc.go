// Package session keeps one live MCP client session per provider connection.
//
// Sessions are keyed by Key(providerID, params): a hash of the canonical
// connection parameters appended to the provider ID. Changing any parameter
// changes the key, so a reconfigured provider gets a fresh session instead
// of a stale one.
//
// GetOrCreate dials lazily with a bounded, fixed-delay retry and reports
// ErrUnavailable when every attempt fails. Concurrent callers for the same
// key share one dial.
package session
