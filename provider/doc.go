// Package provider describes the downstream MCP servers a gateway aggregates.
//
// A Provider carries its stable ID, display name, administrator instructions
// and the ConnectionParams used to reach it. Catalog is the boundary through
// which discovery learns the current provider set; Store and StaticCatalog
// are in-memory implementations.
package provider
