// Package transport manages client-facing protocol sessions.
//
// In stateful mode a client is issued, or supplies, an opaque session ID
// and every request bearing that ID shares one ClientSession. Idle sessions
// are swept after a TTL, and when the table is full the least recently used
// session is evicted to admit a new one. In stateless mode each request gets
// an ephemeral session that is released as soon as the response is written.
//
// Transports are always closed after their session has been removed from
// the table, outside the manager lock, and exactly once.
package transport
