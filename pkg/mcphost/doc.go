// Package mcphost manages a registry of configured MCP servers, one client
// per server, and the aggregated tool catalog layered with persisted
// per-tool overrides.
//
// The Host owns every client handle exclusively. Lifecycle operations
// (enable, disable, reload) and lazy construction inside read or call paths
// mutate the client table under an internal mutex, so concurrent callers do
// not need external serialization. A server stays down after a failed
// construction until an explicit enable or a later lazy attempt; there is no
// automatic reconnect loop.
//
// Steady-state transport failures never surface as errors. List operations
// degrade to empty catalogs and tool calls to nil results, with the
// diagnostic carried alongside as data.
package mcphost
