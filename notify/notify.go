// Package notify lets operation handlers talk back to the connected client
// while a call is in flight. Transports inject a Sink into the call context;
// handlers use Log and Progress without knowing which transport carries them.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/ggoodman/mcp-server-template/mcp"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// Sink delivers client-bound notifications for a single call.
type Sink interface {
	// Log emits notifications/message. Implementations drop messages below
	// the client-selected threshold.
	Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error
	// Progress emits notifications/progress. Implementations drop updates
	// when the request carried no progress token.
	Progress(ctx context.Context, progress, total float64, message string) error
}

type sinkKey struct{}

// WithSink returns a new context carrying s.
func WithSink(ctx context.Context, s Sink) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sinkKey{}, s)
}

// SinkFrom retrieves the Sink from ctx if present.
func SinkFrom(ctx context.Context) (Sink, bool) {
	s, ok := ctx.Value(sinkKey{}).(Sink)
	return s, ok && s != nil
}

// Log sends data to the client at level. Without a sink in ctx it is a no-op.
func Log(ctx context.Context, level mcp.LoggingLevel, data any) error {
	s, ok := SinkFrom(ctx)
	if !ok {
		return nil
	}
	return s.Log(ctx, level, "", data)
}

// Progress reports progress of the current call. total may be zero when
// unknown.
func Progress(ctx context.Context, progress, total float64, message string) error {
	s, ok := SinkFrom(ctx)
	if !ok {
		return nil
	}
	return s.Progress(ctx, progress, total, message)
}

// Threshold is the minimum client log level, safe for concurrent use. The
// zero value allows info and above.
type Threshold struct {
	sev atomic.Int32 // severity + 1 so that zero means unset
}

// Set changes the threshold.
func (t *Threshold) Set(level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	t.sev.Store(int32(level.Severity()) + 1)
	return nil
}

// Level returns the current threshold.
func (t *Threshold) Level() mcp.LoggingLevel {
	switch t.sev.Load() - 1 {
	case 0:
		return mcp.LoggingLevelDebug
	case -1, 1:
		return mcp.LoggingLevelInfo
	case 2:
		return mcp.LoggingLevelNotice
	case 3:
		return mcp.LoggingLevelWarning
	case 4:
		return mcp.LoggingLevelError
	case 5:
		return mcp.LoggingLevelCritical
	case 6:
		return mcp.LoggingLevelAlert
	default:
		return mcp.LoggingLevelEmergency
	}
}

// Allows reports whether a message at level passes the threshold.
func (t *Threshold) Allows(level mcp.LoggingLevel) bool {
	return level.Severity() >= t.Level().Severity()
}

// SlogLevel maps an MCP logging level onto slog. Notice maps to info and
// everything from error up maps to error.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, nil
	default:
		return 0, ErrInvalidLoggingLevel
	}
}
