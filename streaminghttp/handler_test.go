package streaminghttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-server-template/catalog/calculator"
	"github.com/ggoodman/mcp-server-template/catalog/template"
	"github.com/ggoodman/mcp-server-template/dispatch"
	"github.com/ggoodman/mcp-server-template/internal/engine"
	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/notify"
	"github.com/ggoodman/mcp-server-template/registry"
	"github.com/ggoodman/mcp-server-template/schema"
	"github.com/ggoodman/mcp-server-template/streaminghttp"
)

const (
	acceptBoth = "application/json, text/event-stream"
	acceptJSON = "application/json"
)

func TestSingleInstance(t *testing.T) {
	t.Run("Initialize returns session and capabilities", func(t *testing.T) {
		srv, h := mustServer(t)

		resp, evt := mustPostMCP(t, srv, "", acceptBoth, initializeRequest())
		defer resp.Body.Close()

		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if resp.Header.Get("mcp-session-id") == "" {
			t.Fatalf("missing mcp-session-id header")
		}
		if got := resp.Header.Get("mcp-protocol-version"); got != mcp.LatestProtocolVersion {
			t.Fatalf("unexpected protocol version header %q", got)
		}
		if h.Sessions() != 1 {
			t.Fatalf("expected one open session, got %d", h.Sessions())
		}

		var res jsonrpc.Response
		mustUnmarshalJSON(t, evt.data, &res)
		if res.Error != nil {
			t.Fatalf("initialize error: %+v", res.Error)
		}
		var initRes mcp.InitializeResult
		mustUnmarshalJSON(t, res.Result, &initRes)
		if initRes.Capabilities.Tools == nil || initRes.Capabilities.Resources == nil {
			t.Fatalf("expected tools and resources capabilities, got %#v", initRes.Capabilities)
		}
	})

	t.Run("Tool call answers as JSON when streaming is not accepted", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)

		resp, evt := mustPostMCP(t, srv, sessID, acceptJSON, toolCall(2, "add", map[string]any{"a": 2, "b": 3}))
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("expected JSON response, got %q", ct)
		}

		var res jsonrpc.Response
		mustUnmarshalJSON(t, evt.data, &res)
		var result mcp.CallToolResult
		mustUnmarshalJSON(t, res.Result, &result)
		if result.IsError || result.Content[0].Text != "5" {
			t.Fatalf("unexpected result: %+v", result)
		}
	})

	t.Run("Log notifications precede the response on the stream", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)

		resp, err := doPostMCP(t, srv, sessID, "text/event-stream", toolCall(3, "log-error", nil))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()

		br := bufio.NewReader(resp.Body)
		var methods []string
		for i := 0; i < 3; i++ {
			evt, err := readOneSSE(br)
			if err != nil {
				t.Fatalf("read event %d: %v", i, err)
			}
			var msg jsonrpc.AnyMessage
			mustUnmarshalJSON(t, evt.data, &msg)
			methods = append(methods, msg.Type()+":"+msg.Method)
		}
		want := []string{
			"notification:" + string(mcp.LoggingMessageNotificationMethod),
			"notification:" + string(mcp.LoggingMessageNotificationMethod),
			"response:",
		}
		if strings.Join(methods, ",") != strings.Join(want, ",") {
			t.Fatalf("unexpected event sequence: %v", methods)
		}
	})

	t.Run("Log level is remembered per session", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)

		setLevel := &jsonrpc.Request{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         string(mcp.LoggingSetLevelMethod),
			Params:         mustJSON(mcp.SetLevelRequest{Level: mcp.LoggingLevelError}),
			ID:             jsonrpc.NewRequestID(4),
		}
		resp, _ := mustPostMCP(t, srv, sessID, acceptJSON, setLevel)
		resp.Body.Close()

		resp, err := doPostMCP(t, srv, sessID, "text/event-stream", toolCall(5, "log-error", nil))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()

		br := bufio.NewReader(resp.Body)
		first, err := readOneSSE(br)
		if err != nil {
			t.Fatal(err)
		}
		var note struct {
			Params mcp.LoggingMessageNotification `json:"params"`
		}
		mustUnmarshalJSON(t, first.data, &note)
		if note.Params.Level != mcp.LoggingLevelError {
			t.Fatalf("expected only the error line, got %+v", note.Params)
		}
		second, err := readOneSSE(br)
		if err != nil {
			t.Fatal(err)
		}
		var msg jsonrpc.AnyMessage
		mustUnmarshalJSON(t, second.data, &msg)
		if msg.Type() != "response" {
			t.Fatalf("expected response after one log line, got %s", second.data)
		}
	})

	t.Run("Sessionless POST is served", func(t *testing.T) {
		srv, h := mustServer(t)

		resp, evt := mustPostMCP(t, srv, "", acceptJSON, toolCall(1, "greet", map[string]any{"name": "Ada"}))
		defer resp.Body.Close()
		var res jsonrpc.Response
		mustUnmarshalJSON(t, evt.data, &res)
		var result mcp.CallToolResult
		mustUnmarshalJSON(t, res.Result, &result)
		if result.Content[0].Text != "Hello, Ada!" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if h.Sessions() != 0 {
			t.Fatalf("sessionless request must not open a session")
		}
	})

	t.Run("Unknown resource maps to resource not found", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)

		read := &jsonrpc.Request{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         string(mcp.ResourcesReadMethod),
			Params:         mustJSON(mcp.ReadResourceRequest{URI: "https://example.com/missing"}),
			ID:             jsonrpc.NewRequestID(6),
		}
		resp, evt := mustPostMCP(t, srv, sessID, acceptBoth, read)
		defer resp.Body.Close()
		var res jsonrpc.Response
		mustUnmarshalJSON(t, evt.data, &res)
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeResourceNotFound {
			t.Fatalf("expected -32002, got %+v", res.Error)
		}
	})

	t.Run("Initialized notification is accepted", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)

		note := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}
		resp, err := doPostMCP(t, srv, sessID, acceptBoth, note)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("initialized note status: %d", resp.StatusCode)
		}
	})
}

func TestTransportRejections(t *testing.T) {
	srv, _ := mustServer(t)

	t.Run("content type", func(t *testing.T) {
		httpReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{}`))
		httpReq.Header.Set("Content-Type", "text/plain")
		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnsupportedMediaType {
			t.Fatalf("expected 415, got %d", resp.StatusCode)
		}
	})

	t.Run("batch", func(t *testing.T) {
		resp := postRaw(t, srv, "", acceptBoth, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		resp := postRaw(t, srv, "", acceptBoth, `{"jsonrpc":`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, err := doPostMCP(t, srv, "nope", acceptBoth, ping(1))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("not acceptable", func(t *testing.T) {
		resp, err := doPostMCP(t, srv, "", "text/html", ping(1))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotAcceptable {
			t.Fatalf("expected 406, got %d", resp.StatusCode)
		}
	})

	t.Run("protocol version mismatch", func(t *testing.T) {
		sessID := mustInitialize(t, srv)
		body, _ := json.Marshal(ping(2))
		httpReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", acceptBoth)
		httpReq.Header.Set("Mcp-Session-Id", sessID)
		httpReq.Header.Set("Mcp-Protocol-Version", mcp.ProtocolVersion20241105)
		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("redundant initialize", func(t *testing.T) {
		sessID := mustInitialize(t, srv)
		resp, err := doPostMCP(t, srv, sessID, acceptBoth, initializeRequest())
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409, got %d", resp.StatusCode)
		}
	})
}

func TestDeleteEndsSessionAndStream(t *testing.T) {
	srv, h := mustServer(t)
	sessID := mustInitialize(t, srv)

	getReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	getReq.Header.Set("Accept", "text/event-stream")
	getReq.Header.Set("Mcp-Session-Id", sessID)
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("do get: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected GET stream, got %d", getResp.StatusCode)
	}
	streamDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, getResp.Body)
		close(streamDone)
	}()

	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	delReq.Header.Set("Mcp-Session-Id", sessID)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}
	if h.Sessions() != 0 {
		t.Fatalf("session not removed")
	}

	select {
	case <-streamDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("GET stream not released by DELETE")
	}

	resp, err := doPostMCP(t, srv, sessID, acceptBoth, ping(9))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}

	delResp, err = http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", delResp.StatusCode)
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	srv, h := mustServer(t, streaminghttp.WithSessionIdleTimeout(100*time.Millisecond))

	idle := mustInitialize(t, srv)
	held := mustInitialize(t, srv)

	getReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	getReq.Header.Set("Accept", "text/event-stream")
	getReq.Header.Set("Mcp-Session-Id", held)
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("do get: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected GET stream, got %d", getResp.StatusCode)
	}

	time.Sleep(300 * time.Millisecond)

	if got := h.Sessions(); got != 1 {
		t.Fatalf("expected only the streaming session to survive, got %d", got)
	}
	resp, err := doPostMCP(t, srv, idle, acceptJSON, ping(1))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for expired session, got %d", resp.StatusCode)
	}
	resp, _ = mustPostMCP(t, srv, held, acceptJSON, ping(2))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected streaming session to stay usable, got %d", resp.StatusCode)
	}
}

func TestConcurrentNotificationsKeepFramesIntact(t *testing.T) {
	const writers, perWriter = 8, 25
	eng := newEngine(t, func(reg *registry.Registry) {
		reg.Register(registry.Tool, registry.NewToolFromShape("chatty", nil, func(ctx context.Context, _ schema.Args) (registry.Output, error) {
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						_ = notify.Log(ctx, mcp.LoggingLevelInfo, strings.Repeat("x", 512))
					}
				}()
			}
			wg.Wait()
			return registry.Text("done"), nil
		}))
	})
	srv, _ := mustServerFor(t, eng)
	sessID := mustInitialize(t, srv)

	resp, err := doPostMCP(t, srv, sessID, "text/event-stream", toolCall(7, "chatty", nil))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	notes := 0
	for {
		evt, err := readOneSSE(br)
		if err != nil {
			t.Fatalf("read event after %d notifications: %v", notes, err)
		}
		var msg jsonrpc.AnyMessage
		mustUnmarshalJSON(t, evt.data, &msg)
		if msg.Type() == "response" {
			break
		}
		notes++
	}
	if notes != writers*perWriter {
		t.Fatalf("expected %d notifications, got %d", writers*perWriter, notes)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := streaminghttp.New(nil); !errors.Is(err, streaminghttp.ErrEngineRequired) {
		t.Fatalf("expected ErrEngineRequired, got %v", err)
	}
	if _, err := streaminghttp.New(newEngine(t), streaminghttp.WithPath("mcp")); !errors.Is(err, streaminghttp.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func newEngine(t *testing.T, extra ...func(reg *registry.Registry)) *engine.Engine {
	t.Helper()
	reg := registry.New()
	template.Register(reg, nil)
	calculator.Register(reg)
	for _, fn := range extra {
		fn(reg)
	}
	reg.Freeze()
	return engine.NewEngine(dispatch.New(reg), mcp.ImplementationInfo{Name: "test", Version: "1.0.0"})
}

func mustServer(t *testing.T, opts ...streaminghttp.Option) (*httptest.Server, *streaminghttp.StreamingHTTPHandler) {
	t.Helper()
	return mustServerFor(t, newEngine(t), opts...)
}

func mustServerFor(t *testing.T, eng *engine.Engine, opts ...streaminghttp.Option) (*httptest.Server, *streaminghttp.StreamingHTTPHandler) {
	t.Helper()
	opts = append([]streaminghttp.Option{streaminghttp.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	h, err := streaminghttp.New(eng, opts...)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv, h
}

func initializeRequest() *jsonrpc.Request {
	return &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		Params: mustJSON(mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "1.0.0"},
		}),
		ID: jsonrpc.NewRequestID("init"),
	}
}

func mustInitialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, _ := mustPostMCP(t, srv, "", acceptBoth, initializeRequest())
	resp.Body.Close()
	sessID := resp.Header.Get("mcp-session-id")
	if sessID == "" {
		t.Fatalf("initialize did not return a session")
	}
	return sessID
}

func toolCall(id int, name string, args map[string]any) *jsonrpc.Request {
	return &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolsCallMethod),
		Params:         mustJSON(map[string]any{"name": name, "arguments": args}),
		ID:             jsonrpc.NewRequestID(id),
	}
}

func ping(id int) *jsonrpc.Request {
	return &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.PingMethod), ID: jsonrpc.NewRequestID(id)}
}

type sseEvent struct {
	event string
	id    string
	data  json.RawMessage
}

// doPostMCP performs the HTTP POST with required headers and returns the raw response.
func doPostMCP(t *testing.T, srv *httptest.Server, sessionID, accept string, req *jsonrpc.Request) (*http.Response, error) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
		if req.Method != string(mcp.InitializeMethod) {
			httpReq.Header.Set("MCP-Protocol-Version", mcp.LatestProtocolVersion)
		}
	}
	return http.DefaultClient.Do(httpReq)
}

func postRaw(t *testing.T, srv *httptest.Server, sessionID, accept, body string) *http.Response {
	t.Helper()
	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	return resp
}

// mustPostMCP posts and parses a response. If the response is an SSE stream (text/event-stream)
// it reads exactly one event. Otherwise it reads the full body as a single JSON payload.
func mustPostMCP(t *testing.T, srv *httptest.Server, sessionID, accept string, req *jsonrpc.Request) (*http.Response, sseEvent) {
	t.Helper()
	resp, err := doPostMCP(t, srv, sessionID, accept, req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp, sseEvent{}
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		evt, err := readOneSSE(bufio.NewReader(resp.Body))
		if err != nil {
			t.Fatalf("sse read error: %v", err)
		}
		return resp, evt
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("body read error: %v", err)
	}
	return resp, sseEvent{data: body}
}

func readOneSSE(br *bufio.Reader) (sseEvent, error) {
	var (
		event   sseEvent
		dataBuf bytes.Buffer
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return sseEvent{}, io.ErrUnexpectedEOF
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" { // end of event
			if dataBuf.Len() > 0 {
				event.data = append([]byte(nil), dataBuf.Bytes()...)
			}
			return event, nil
		}
		if strings.HasPrefix(line, "event: ") {
			event.event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "id: ") {
			event.id = strings.TrimPrefix(line, "id: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
			continue
		}
	}
}

func mustUnmarshalJSON[T any](t *testing.T, data []byte, v *T) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal json: %v\ninput: %s", err, string(data))
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
