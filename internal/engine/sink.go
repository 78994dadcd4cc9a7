package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-server-template/internal/jsonrpc"
	"github.com/ggoodman/mcp-server-template/mcp"
)

// callSink implements notify.Sink for a single in-flight request.
type callSink struct {
	sess          *Session
	w             MessageWriter
	progressToken mcp.ProgressToken
}

func (s *callSink) Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error {
	if !s.sess.threshold.Allows(level) {
		return nil
	}
	return s.send(ctx, mcp.LoggingMessageNotificationMethod, mcp.LoggingMessageNotification{
		Level:  level,
		Data:   data,
		Logger: logger,
	})
}

func (s *callSink) Progress(ctx context.Context, progress, total float64, message string) error {
	if s.progressToken == nil {
		return nil
	}
	return s.send(ctx, mcp.ProgressNotificationMethod, mcp.ProgressNotificationParams{
		ProgressToken: s.progressToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

func (s *callSink) send(ctx context.Context, method mcp.Method, params any) error {
	n, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.w.WriteMessage(ctx, b)
}
