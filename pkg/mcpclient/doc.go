// Package mcpclient provides the two transport clients used to reach MCP
// tool servers: HTTPClient speaks JSON-RPC over HTTP POST, StdioClient spawns
// a server subprocess and speaks line-delimited JSON-RPC over its standard
// input/output. Both implement the ToolClient capability contract so callers
// never branch on transport.
//
// # Failure contract
//
// Construction errors (no resolvable endpoint, missing executable, failed
// initialize handshake) are surfaced to the caller. Steady-state transport
// and protocol failures are not: list operations degrade to an empty page,
// CallTool degrades to a nil result, and the failure detail travels in the
// result's Diagnostic field instead of an error return. Callers that need to
// distinguish "empty" from "unreachable" inspect Diagnostic or run a health
// check at the host layer.
//
// # Stdio usage discipline
//
// By default a StdioClient supports at most one outstanding request at a
// time: while waiting for a response, messages whose id does not match the
// awaited request are discarded. Set StdioOptions.Correlated to route
// responses to their requests by id and lift that restriction.
package mcpclient
