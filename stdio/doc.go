// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is the default way to run the server as a subprocess of
// an MCP client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : newline-delimited JSON-RPC 2.0, one message per line
//	Concurrency      : each request runs in its own goroutine, bounded by
//	                   WithMaxInFlight; writes are serialized
//	Cancellation     : notifications/cancelled aborts the matching request and
//	                   suppresses its response
//
// Protocol output goes to the writer only; logs must go elsewhere (stderr).
//
// Example:
//
//	reg := registry.New()
//	template.Register(reg, logger)
//	reg.Freeze()
//	eng := engine.NewEngine(dispatch.New(reg), mcp.ImplementationInfo{Name: "my-server", Version: "0.1.0"})
//	h := stdio.NewHandler(eng)
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
package stdio
