// Package mcp hosts MCP tool servers on behalf of an LLM application.
//
// Three kinds of server share one [Server] interface: child processes
// speaking newline-delimited JSON-RPC 2.0 over stdin/stdout
// ([ProcessServer]), remote servers reached by HTTP POST
// ([HTTPServer]), and in-process servers built from Go handlers
// ([Builtin]). A [Host] keeps them by id, spawns them from
// [ServerSpec] values, aggregates their tool listings and routes calls.
//
// Requests to a process server are correlated by id, so many calls may
// be in flight at once and the child may answer them in any order.
// Tool names are exposed to the model as "<server>--<tool>".
package mcp
