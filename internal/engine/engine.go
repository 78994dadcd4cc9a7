package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ggoodman/mcp-server-template/dispatch"
	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/notify"
)

const defaultPageSize = 50

var (
	// ErrCancelled is returned by HandleRequest when the client cancelled the
	// request. Transports must not write a response for it.
	ErrCancelled = errors.New("operation cancelled")
)

// Engine maps MCP methods onto a Dispatcher. It is transport-agnostic: the
// stdio and streaming HTTP transports decode JSON-RPC messages and hand them
// to HandleRequest and HandleNotification.
type Engine struct {
	disp         *dispatch.Dispatcher
	info         mcp.ImplementationInfo
	instructions string
	log          *slog.Logger
	levelVar     *slog.LevelVar
	pageSize     int

	// in-flight call tracking
	callMu      sync.Mutex
	callCancels map[string]context.CancelCauseFunc // sessionID/reqID -> cancel func
}

func NewEngine(disp *dispatch.Dispatcher, info mcp.ImplementationInfo, opts ...EngineOption) *Engine {
	e := &Engine{
		disp:        disp,
		info:        info,
		log:         slog.Default(),
		pageSize:    defaultPageSize,
		callCancels: make(map[string]context.CancelCauseFunc),
	}

	// Apply options (order matters; later options override earlier ones).
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(s string) EngineOption {
	return func(e *Engine) { e.instructions = s }
}

// WithLevelVar lets logging/setLevel also adjust the process log level.
func WithLevelVar(lv *slog.LevelVar) EngineOption {
	return func(e *Engine) { e.levelVar = lv }
}

// WithPageSize overrides the list page size. Non-positive values are ignored.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// HandleRequest answers a single JSON-RPC request. w receives notifications
// emitted while the request is in flight; it may be nil.
func (e *Engine) HandleRequest(ctx context.Context, sess *Session, req *jsonrpc.Request, w MessageWriter) (*jsonrpc.Response, error) {
	if w == nil {
		w = discardWriter{}
	}
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, sess, req)
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, req, w)
	case mcp.PromptsListMethod:
		return e.handlePromptsList(ctx, req)
	case mcp.PromptsGetMethod:
		return e.handlePromptsGet(ctx, sess, req, w)
	case mcp.ResourcesListMethod:
		return e.handleResourcesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(ctx, sess, req, w)
	case mcp.LoggingSetLevelMethod:
		return e.handleSetLoggingLevel(ctx, sess, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unsupported", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil), nil
}

func (e *Engine) handleInitialize(ctx context.Context, sess *Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	negotiatedVersion := mcp.LatestProtocolVersion
	if mcp.IsSupportedProtocolVersion(params.ProtocolVersion) {
		negotiatedVersion = params.ProtocolVersion
	}

	sess.mu.Lock()
	sess.protocolVersion = negotiatedVersion
	sess.client = params.ClientInfo
	sess.mu.Unlock()

	res := &mcp.InitializeResult{
		ProtocolVersion: negotiatedVersion,
		Capabilities:    serverCapabilities(),
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	}

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.String("protocol_version", negotiatedVersion),
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return jsonrpc.NewResultResponse(req.ID, res)
}

// serverCapabilities advertises every kind. The registry is frozen while
// serving, so no list ever changes.
func serverCapabilities() mcp.ServerCapabilities {
	caps := mcp.ServerCapabilities{
		Logging: &struct{}{},
	}
	caps.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{}
	caps.Prompts = &struct {
		ListChanged bool `json:"listChanged"`
	}{}
	caps.Resources = &struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	}{}
	return caps
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, sess *Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))
	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	if err := sess.threshold.Set(params.Level); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error(), nil), nil
	}
	if e.levelVar != nil {
		if lvl, err := notify.SlogLevel(params.Level); err == nil {
			e.levelVar.Set(lvl)
		}
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("level", string(params.Level)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

// HandleNotification processes a client notification. Notifications never
// produce a response.
func (e *Engine) HandleNotification(ctx context.Context, sess *Session, note *jsonrpc.Request) error {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		sess.mu.Lock()
		sess.initialized = true
		sess.mu.Unlock()
		e.log.InfoContext(ctx, "engine.session.initialized")
		return nil

	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return fmt.Errorf("invalid cancelled params: %w", err)
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return fmt.Errorf("invalid cancelled request id: %w", err)
		}
		found := e.cancelInFlightRequest(sess, id.String(), params.Reason)
		e.log.InfoContext(ctx, "engine.handle_notification.cancelled",
			slog.String("request_id", id.String()),
			slog.Bool("found", found),
		)
		return nil
	}

	e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}

func callKey(sess *Session, reqID string) string {
	return sess.id + "/" + reqID
}

// trackCall derives a cancellable context for a dispatched request and
// registers it so notifications/cancelled can find it.
func (e *Engine) trackCall(ctx context.Context, sess *Session, req *jsonrpc.Request) (context.Context, func(), error) {
	reqID := req.ID.String()
	if reqID == "" {
		return nil, nil, errors.New("missing request ID")
	}
	key := callKey(sess, reqID)

	callCtx, cancel := context.WithCancelCause(ctx)

	e.callMu.Lock()
	if _, exists := e.callCancels[key]; exists {
		e.callMu.Unlock()
		cancel(context.Canceled)
		return nil, nil, fmt.Errorf("duplicate request ID %s", reqID)
	}
	e.callCancels[key] = cancel
	e.callMu.Unlock()

	done := func() {
		e.callMu.Lock()
		delete(e.callCancels, key)
		e.callMu.Unlock()
		cancel(context.Canceled)
	}
	return callCtx, done, nil
}

func (e *Engine) cancelInFlightRequest(sess *Session, reqID string, reason string) bool {
	if reqID == "" {
		return false
	}

	e.callMu.Lock()
	cancel, exists := e.callCancels[callKey(sess, reqID)]
	e.callMu.Unlock()

	if exists && cancel != nil {
		cancelReason := reason
		if cancelReason == "" {
			cancelReason = "cancelled"
		}
		cancel(fmt.Errorf("%w: %s", ErrCancelled, cancelReason))
	}
	return exists && cancel != nil
}

// InFlight reports how many dispatched requests are currently tracked.
func (e *Engine) InFlight() int {
	e.callMu.Lock()
	defer e.callMu.Unlock()
	return len(e.callCancels)
}

func (e *Engine) newCallContext(ctx context.Context, sess *Session, w MessageWriter, meta *mcp.RequestMeta) context.Context {
	sink := &callSink{sess: sess, w: w}
	if meta != nil {
		sink.progressToken = meta.ProgressToken
	}
	return notify.WithSink(ctx, sink)
}

func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// page slices items starting at cursor and returns the cursor of the next
// page, or "" on the last page.
func page[T any](items []T, cursor string, size int) ([]T, string) {
	start := parseCursor(cursor)
	if start > len(items) {
		start = 0
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	if end < len(items) {
		return out, strconv.Itoa(end)
	}
	return out, ""
}
