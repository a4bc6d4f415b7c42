// Package dispatch routes client capability requests to providers.
//
// Every tools/call, resources/read and prompts/get passes the same steps:
//
//  1. validate the name and payload size
//  2. check the per-operation rate limit (no queuing)
//  3. resolve the name in the registry, falling back to parsing the prefix
//     and scanning by (original name, identifier); built-in tools run
//     locally from here
//  4. check the provider ID format
//  5. authorize the original name against the provider's constraint set,
//     and apply the provider's own rate limit when its instructions set one
//  6. acquire the provider session under the provider's circuit breaker
//     and retry policy
//  7. forward using the original name, with constraint metadata attached
//  8. record activity on a fire-and-forget side channel
//  9. return a classified error whose message is safe to show the caller
//
// Downstream calls run on a context detached from the caller with a
// per-operation timeout, so a client disconnect does not abort them.
package dispatch
