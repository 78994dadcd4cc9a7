package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-server-template/internal/engine"
	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
	"github.com/ggoodman/mcp-server-template/internal/logctx"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	ErrEngineRequired = errors.New("engine is required")
	ErrInvalidPath    = errors.New("endpoint path must start with /")
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	// Streaming is preferred when the client accepts both.
	responseMediaTypes    = []contenttype.MediaType{eventStreamMediaType, jsonMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	defaultPath        = "/mcp"
	defaultIdleTimeout = 30 * time.Minute
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the StreamingHTTPHandler.
type Option func(*StreamingHTTPHandler)

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *StreamingHTTPHandler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithPath sets the endpoint path. Defaults to /mcp.
func WithPath(p string) Option {
	return func(h *StreamingHTTPHandler) { h.path = p }
}

// WithCallTimeout bounds every request dispatched through the handler. Zero
// means no timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(h *StreamingHTTPHandler) { h.callTimeout = d }
}

// WithSessionIdleTimeout ends sessions that have seen no request for d. A
// session with an open GET stream never expires. Zero keeps sessions until
// they are deleted.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(h *StreamingHTTPHandler) {
		if d >= 0 {
			h.idleTimeout = d
		}
	}
}

// StreamingHTTPHandler implements the streamable HTTP transport of the Model
// Context Protocol over an engine. Sessions live in process memory only.
type StreamingHTTPHandler struct {
	mux         *http.ServeMux
	log         *slog.Logger
	eng         *engine.Engine
	path        string
	callTimeout time.Duration
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*httpSession
}

type httpSession struct {
	*engine.Session
	closed    chan struct{}
	closeOnce sync.Once

	lastSeen atomic.Int64 // unix nanos
	streams  atomic.Int32
}

func (s *httpSession) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *httpSession) expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.streams.Load() > 0 {
		return false
	}
	return now.Sub(time.Unix(0, s.lastSeen.Load())) > ttl
}

func (s *httpSession) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a StreamingHTTPHandler serving eng at the configured path.
func New(eng *engine.Engine, opts ...Option) (*StreamingHTTPHandler, error) {
	if eng == nil {
		return nil, ErrEngineRequired
	}

	h := &StreamingHTTPHandler{
		mux:         http.NewServeMux(),
		log:         slog.Default(),
		eng:         eng,
		path:        defaultPath,
		idleTimeout: defaultIdleTimeout,
		sessions:    make(map[string]*httpSession),
	}
	for _, opt := range opts {
		opt(h)
	}
	if !strings.HasPrefix(h.path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, h.path)
	}

	h.mux.HandleFunc("POST "+h.path, h.handlePostMCP)
	h.mux.HandleFunc("GET "+h.path, h.handleGetMCP)
	h.mux.HandleFunc("DELETE "+h.path, h.handleDeleteMCP)

	return h, nil
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// Sessions reports how many sessions are currently open.
func (h *StreamingHTTPHandler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expireLocked(time.Now())
	return len(h.sessions)
}

// expireLocked drops idle sessions. h.mu must be held.
func (h *StreamingHTTPHandler) expireLocked(now time.Time) {
	for id, s := range h.sessions {
		if s.expired(now, h.idleTimeout) {
			s.close()
			delete(h.sessions, id)
			h.log.Info("session.expire", slog.String("session_id", id))
		}
	}
}

// Close ends every open session and releases any held GET streams.
func (h *StreamingHTTPHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.close()
		delete(h.sessions, id)
	}
}

func (h *StreamingHTTPHandler) lookupSession(id string) (*httpSession, bool) {
	now := time.Now()
	h.mu.Lock()
	h.expireLocked(now)
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if ok {
		s.touch(now)
	}
	return s, ok
}

func (h *StreamingHTTPHandler) dropSession(id string) bool {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// handleDeleteMCP terminates an existing session.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "delete.missing_session_id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.dropSession(sessID) {
		h.log.InfoContext(ctx, "session.delete.miss")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// handlePostMCP handles the POST endpoint, which carries every client message
// and establishes sessions through initialize.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	req := msg.AsRequest()
	isInitialize := req != nil && req.Method == string(mcp.InitializeMethod)

	var sess *engine.Session
	sessID := r.Header.Get(mcpSessionIDHeader)
	switch {
	case isInitialize && sessID != "":
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	case isInitialize:
		// The session is registered only once initialize succeeds.
		sess = engine.NewSession(uuid.NewString())
	case sessID != "":
		hs, ok := h.lookupSession(sessID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		sess = hs.Session
	default:
		// Sessionless clients get a throwaway session per message.
		sess = engine.NewSession(uuid.NewString())
	}

	clientPV := r.Header.Get(mcpProtocolVersionHeader)
	if clientPV != "" && sess.ProtocolVersion() != "" && clientPV != sess.ProtocolVersion() {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}

	switch msg.Type() {
	case "notification":
		if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			h.log.WarnContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			return
		}
		if spv := sess.ProtocolVersion(); spv != "" {
			w.Header().Set(mcpProtocolVersionHeader, spv)
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	case "response":
		// The server never issues client-bound requests, so there is nothing
		// to correlate.
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "response.inbound.ignored")
		return
	case "request":
	default:
		writeJSONError(w, http.StatusBadRequest, "unrecognized JSON-RPC message")
		h.log.WarnContext(ctx, "jsonrpc.message.unrecognized", slog.Duration("dur", time.Since(start)))
		return
	}

	stream := false
	if r.Header.Get("Accept") != "" {
		mt, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes)
		if err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "accept must allow application/json or text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
		stream = mt.Matches(eventStreamMediaType)
	}

	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	if stream {
		h.serveStream(ctx, w, sess, req, isInitialize, start)
		return
	}

	res, err := h.eng.HandleRequest(ctx, sess, req, nil)
	if errors.Is(err, engine.ErrCancelled) {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.inbound.cancelled", slog.Duration("dur", time.Since(start)))
		return
	}
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	h.setSessionHeaders(ctx, w, sess, isInitialize && res.Error == nil)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// serveStream answers req on an event stream. Notifications the call emits
// are written as events ahead of the response.
func (h *StreamingHTTPHandler) serveStream(ctx context.Context, w http.ResponseWriter, sess *engine.Session, req *jsonrpc.Request, isInitialize bool, start time.Time) {
	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	writer := engine.NewMessageWriterFunc(func(_ context.Context, msg jsonrpc.Message) error {
		return writeSSEEvent(wf, "", msg)
	})

	var (
		res *jsonrpc.Response
		err error
	)
	if isInitialize {
		// initialize must run before the session headers are written.
		res, err = h.eng.HandleRequest(ctx, sess, req, nil)
		if err == nil && res.Error == nil {
			h.setSessionHeaders(ctx, w, sess, true)
		}
		h.writeStreamHeaders(w, sess)
		wf.Flush()
	} else {
		h.writeStreamHeaders(w, sess)
		wf.Flush()
		res, err = h.eng.HandleRequest(ctx, sess, req, writer)
	}

	if errors.Is(err, engine.ErrCancelled) {
		h.log.InfoContext(ctx, "rpc.inbound.cancelled", slog.Duration("dur", time.Since(start)))
		return
	}
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	b, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writer.WriteMessage(ctx, b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// setSessionHeaders registers a freshly initialized session and advertises
// its id and protocol version.
func (h *StreamingHTTPHandler) setSessionHeaders(ctx context.Context, w http.ResponseWriter, sess *engine.Session, initialized bool) {
	if initialized {
		hs := &httpSession{Session: sess, closed: make(chan struct{})}
		hs.touch(time.Now())
		h.mu.Lock()
		h.sessions[sess.SessionID()] = hs
		h.mu.Unlock()
		w.Header().Set(mcpSessionIDHeader, sess.SessionID())
		h.log.InfoContext(ctx, "session.initialize.ok", slog.String("session_id", sess.SessionID()))
	}
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
}

func (h *StreamingHTTPHandler) writeStreamHeaders(w http.ResponseWriter, sess *engine.Session) {
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// handleGetMCP holds open an event stream for an established session. The
// server never sends unsolicited messages, so the stream only ends when the
// client disconnects or the session is deleted.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	hs, ok := h.lookupSession(sessID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	hs.streams.Add(1)
	defer func() {
		hs.touch(time.Now())
		hs.streams.Add(-1)
	}()

	h.writeStreamHeaders(w, hs.Session)
	f.Flush()
	h.log.InfoContext(ctx, "sse.stream.start")

	select {
	case <-ctx.Done():
	case <-hs.closed:
	}
	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// writeSSEEvent writes payload as the data field of one Server-Sent Event and
// flushes it. The frame goes out in a single write so concurrent events never
// interleave.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(payload) + len(msgID) + 16)
	if msgID != "" {
		buf.WriteString("id: ")
		buf.WriteString(msgID)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	if _, err := wf.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	wf.Flush()
	return nil
}
