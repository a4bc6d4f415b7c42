// Package discovery runs the gateway's discovery cycle.
//
// A cycle reads the provider catalog, assigns every provider an identifier
// (its UUID, or a unique slug derived from its display name), parses the
// provider's instructions into a constraint set, lists the provider's tools,
// resources and prompts over its downstream session, and finally replaces
// the capability registry in one step.
//
// # Caching
//
// Ensure refreshes only when the last successful cycle is older than the
// cache TTL. Concurrent refreshes collapse into one. RefreshAsync starts a
// background cycle on a detached context; dispatchers use it when a cache
// check fails so listing can still answer from the last known registry.
//
// # Scheduling
//
// Start registers a cron schedule (default "@every 5m") that refreshes the
// registry even when no client is listing.
//
// # Thread Safety
//
// All Discovery methods are safe for concurrent use.
package discovery
