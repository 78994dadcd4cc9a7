package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-server-template/dispatch"
	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/registry"
)

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	descs := e.disp.List(registry.Tool)
	all := make([]mcp.Tool, 0, len(descs))
	for _, d := range descs {
		all = append(all, ToolDescriptor(d))
	}
	items, next := page(all, params.Cursor, e.pageSize)

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(items)))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{
		Tools:           items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (e *Engine) handlePromptsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListPromptsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	descs := e.disp.List(registry.Prompt)
	all := make([]mcp.Prompt, 0, len(descs))
	for _, d := range descs {
		all = append(all, PromptDescriptor(d))
	}
	items, next := page(all, params.Cursor, e.pageSize)

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("prompt_count", len(items)))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListPromptsResult{
		Prompts:         items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (e *Engine) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	descs := e.disp.List(registry.Resource)
	all := make([]mcp.Resource, 0, len(descs))
	for _, d := range descs {
		all = append(all, ResourceDescriptor(d))
	}
	items, next := page(all, params.Cursor, e.pageSize)

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("resource_count", len(items)))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListResourcesResult{
		Resources:       items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (e *Engine) handleToolCall(ctx context.Context, sess *Session, req *jsonrpc.Request, w MessageWriter) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: missing tool name", nil), nil
	}

	callCtx, done, err := e.trackCall(ctx, sess, req)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil), nil
	}
	defer done()
	callCtx = e.newCallContext(callCtx, sess, w, params.Meta)

	res, err := e.disp.HandleCall(callCtx, registry.Tool, params.Name, params.Arguments)
	if errors.Is(context.Cause(callCtx), ErrCancelled) {
		log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, ErrCancelled
	}
	if err != nil {
		var cerr *dispatch.CallError
		if !errors.As(err, &cerr) {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
		if cerr.Kind == dispatch.HandlerThrew {
			// Handler failures travel in-band as an isError result.
			log.InfoContext(ctx, "engine.handle_request.ok", slog.Bool("is_error", true), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewResultResponse(req.ID, &mcp.CallToolResult{
				Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: cerr.Message}},
				IsError: true,
			})
		}
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", cerr.Message), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return callErrorResponse(req.ID, cerr), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.CallToolResult{Content: res.Content})
}

func (e *Engine) handlePromptsGet(ctx context.Context, sess *Session, req *jsonrpc.Request, w MessageWriter) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.GetPromptRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing prompt name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: missing prompt name", nil), nil
	}

	var raw json.RawMessage
	if params.Arguments != nil {
		b, err := json.Marshal(params.Arguments)
		if err != nil {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
		raw = b
	}

	callCtx, done, err := e.trackCall(ctx, sess, req)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil), nil
	}
	defer done()
	callCtx = e.newCallContext(callCtx, sess, w, params.Meta)

	res, err := e.disp.HandleCall(callCtx, registry.Prompt, params.Name, raw)
	if errors.Is(context.Cause(callCtx), ErrCancelled) {
		log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, ErrCancelled
	}
	if err != nil {
		var cerr *dispatch.CallError
		if !errors.As(err, &cerr) {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", cerr.Message), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return callErrorResponse(req.ID, cerr), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.GetPromptResult{
		Description: res.Description,
		Messages:    res.Messages,
	})
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *Session, req *jsonrpc.Request, w MessageWriter) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing uri"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: missing uri", nil), nil
	}

	callCtx, done, err := e.trackCall(ctx, sess, req)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil), nil
	}
	defer done()
	callCtx = e.newCallContext(callCtx, sess, w, params.Meta)

	res, err := e.disp.ReadResource(callCtx, params.URI)
	if errors.Is(context.Cause(callCtx), ErrCancelled) {
		log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, ErrCancelled
	}
	if err != nil {
		var cerr *dispatch.CallError
		if !errors.As(err, &cerr) {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", cerr.Message), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		if cerr.Kind == dispatch.UnknownOperation {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotFound, cerr.Message, map[string]any{"uri": params.URI}), nil
		}
		return callErrorResponse(req.ID, cerr), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ReadResourceResult{Contents: res.Contents})
}

// callErrorResponse maps a CallError onto a JSON-RPC error. Unknown names
// and invalid arguments are the caller's fault (-32602); handler failures
// are internal (-32603) and keep the handler's message.
func callErrorResponse(id *jsonrpc.RequestID, cerr *dispatch.CallError) *jsonrpc.Response {
	switch cerr.Kind {
	case dispatch.UnknownOperation:
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, cerr.Message, nil)
	case dispatch.ValidationFailed:
		var data any
		if cerr.Field != "" {
			data = map[string]any{"field": cerr.Field}
		}
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, cerr.Message, data)
	default:
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, cerr.Message, nil)
	}
}

// ToolDescriptor renders a registered tool for tools/list.
func ToolDescriptor(d registry.Descriptor) mcp.Tool {
	return mcp.Tool{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
		InputSchema: d.Input.InputSchema(),
	}
}

// PromptDescriptor renders a registered prompt for prompts/list.
func PromptDescriptor(d registry.Descriptor) mcp.Prompt {
	return mcp.Prompt{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
		Arguments:   d.Input.PromptArguments(),
	}
}

// ResourceDescriptor renders a registered resource for resources/list.
func ResourceDescriptor(d registry.Descriptor) mcp.Resource {
	return mcp.Resource{
		URI:         d.URI,
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
		MimeType:    d.MimeType,
	}
}
