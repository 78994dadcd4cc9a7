package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-server-template/internal/engine"
	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
	"github.com/ggoodman/mcp-server-template/internal/logctx"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultMaxInFlight = 16

// ErrAlreadyServing is returned when Serve is called more than once.
var ErrAlreadyServing = errors.New("stdio: handler already serving")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the
// engine.
type Handler struct {
	eng *engine.Engine
	r   io.Reader
	w   io.Writer
	l   *slog.Logger

	maxInFlight int
	callTimeout time.Duration

	serving atomic.Bool
	wmu     sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng:         eng,
		r:           os.Stdin,
		w:           os.Stdout,
		l:           slog.Default(),
		maxInFlight: defaultMaxInFlight,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. On EOF, Serve waits
// for in-flight requests to finish and returns nil.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	sess := engine.NewSession("stdio")
	g, gctx := errgroup.WithContext(ctx)
	// Requests wait for a slot inside their own goroutine so the read loop
	// keeps delivering notifications while the limit is reached.
	slots := semaphore.NewWeighted(int64(h.maxInFlight))

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReader(h.r)
		for {
			line, err := br.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-gctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	h.l.InfoContext(ctx, "stdio.serve.start", slog.Int("max_in_flight", h.maxInFlight))

	var readFailure error
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
				readFailure = fmt.Errorf("stdio: read: %w", err)
			}
			break loop
		case line := <-lines:
			h.handleLine(gctx, g, slots, sess, line)
		}
	}

	waitErr := g.Wait()
	h.l.InfoContext(ctx, "stdio.serve.stop")
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return waitErr
	default:
		return readFailure
	}
}

func (h *Handler) handleLine(ctx context.Context, g *errgroup.Group, slots *semaphore.Weighted, sess *engine.Session, line []byte) {
	line = bytes.TrimSpace(line)
	if line[0] == '[' {
		h.l.WarnContext(ctx, "jsonrpc.batch.forbidden")
		h.writeError(ctx, nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.l.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		if !json.Valid(line) {
			h.writeError(ctx, nil, jsonrpc.ErrorCodeParseError, "parse error")
			return
		}
		h.writeError(ctx, nil, jsonrpc.ErrorCodeInvalidRequest, "invalid request: "+err.Error())
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	switch msg.Type() {
	case "notification":
		// Handled inline so a cancellation is never queued behind the request
		// it targets or behind requests waiting for a slot.
		if err := h.eng.HandleNotification(ctx, sess, msg.AsRequest()); err != nil {
			h.l.WarnContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
		}
	case "request":
		req := msg.AsRequest()
		g.Go(func() error {
			if err := slots.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer slots.Release(1)
			return h.handleRequest(ctx, sess, req)
		})
	default:
		h.l.DebugContext(ctx, "response.inbound.ignored")
	}
}

func (h *Handler) handleRequest(ctx context.Context, sess *engine.Session, req *jsonrpc.Request) error {
	start := time.Now()
	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	res, err := h.eng.HandleRequest(ctx, sess, req, h)
	if errors.Is(err, engine.ErrCancelled) {
		h.l.InfoContext(ctx, "rpc.inbound.cancelled", slog.Duration("dur", time.Since(start)))
		return nil
	}
	if err != nil {
		h.l.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	if err := h.writeJSONRPC(res); err != nil {
		h.l.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		return err
	}
	h.l.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
	return nil
}

func (h *Handler) writeError(ctx context.Context, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	if err := h.writeJSONRPC(jsonrpc.NewErrorResponse(id, code, msg, nil)); err != nil {
		h.l.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) writeJSONRPC(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return h.WriteMessage(context.Background(), b)
}

// WriteMessage writes one encoded message followed by a newline. It makes
// Handler an engine.MessageWriter for notifications emitted during a call.
func (h *Handler) WriteMessage(_ context.Context, msg jsonrpc.Message) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(append(msg, '\n')); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}
