// Package platform is the client for the collaborator backend that owns
// provider configuration.
//
// The backend is reached over HTTP with a bearer token. The gateway uses it
// for three things: listing the MCP servers to aggregate (Client
// implements provider.Catalog), fetching the instruction text returned to
// clients on initialize, and recording the activity log written after each
// dispatched request (Client implements dispatch.ActivityLogger).
//
// Calls are rate limited under the api_call category and retried on
// network, timeout and server errors.
package platform
