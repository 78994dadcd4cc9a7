package engine

import (
	"context"

	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
)

// MessageWriter delivers an encoded JSON-RPC message to the client.
// Implementations must be safe for concurrent use.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg jsonrpc.Message) error
}

type MessageWriterFunc func(ctx context.Context, msg jsonrpc.Message) error

func NewMessageWriterFunc(f func(ctx context.Context, msg jsonrpc.Message) error) MessageWriterFunc {
	return f
}

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	return f(ctx, msg)
}

// discardWriter drops every message. It stands in when a transport cannot
// deliver server-initiated messages for a request.
type discardWriter struct{}

func (discardWriter) WriteMessage(context.Context, jsonrpc.Message) error { return nil }
