// Package streaminghttp implements the MCP streamable HTTP transport. It mounts
// as a standard net/http handler in front of an engine.Engine.
//
// Responsibilities
//   - Session creation on initialize (Mcp-Session-Id) and lookup on later POSTs
//   - Content-Type and Accept negotiation
//   - Per-request responses as JSON or as a Server-Sent Event stream that also
//     carries the call's log and progress notifications
//   - Session termination via DELETE
//
// Construction
//
//	h, err := streaminghttp.New(eng,
//	    streaminghttp.WithPath("/mcp"),
//	    streaminghttp.WithLogger(log),
//	)
//
// POSTs without a session header are answered against a throwaway session, so
// simple clients can call tools without a handshake.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes with a small JSON body;
// MCP-level errors are serialized as JSON-RPC error responses.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
