package notify

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	logs     []any
	progress []float64
}

func (s *recordingSink) Log(_ context.Context, _ mcp.LoggingLevel, _ string, data any) error {
	s.logs = append(s.logs, data)
	return nil
}

func (s *recordingSink) Progress(_ context.Context, progress, _ float64, _ string) error {
	s.progress = append(s.progress, progress)
	return nil
}

func TestLogAndProgressWithoutSinkAreNoops(t *testing.T) {
	require.NoError(t, Log(context.Background(), mcp.LoggingLevelInfo, "x"))
	require.NoError(t, Progress(context.Background(), 1, 2, ""))
}

func TestLogAndProgressReachSink(t *testing.T) {
	sink := &recordingSink{}
	ctx := WithSink(context.Background(), sink)

	require.NoError(t, Log(ctx, mcp.LoggingLevelError, "boom"))
	require.NoError(t, Progress(ctx, 0.5, 1, "halfway"))
	require.Equal(t, []any{"boom"}, sink.logs)
	require.Equal(t, []float64{0.5}, sink.progress)
}

func TestThreshold(t *testing.T) {
	var th Threshold
	require.Equal(t, mcp.LoggingLevelInfo, th.Level())
	require.False(t, th.Allows(mcp.LoggingLevelDebug))
	require.True(t, th.Allows(mcp.LoggingLevelInfo))

	require.NoError(t, th.Set(mcp.LoggingLevelError))
	require.False(t, th.Allows(mcp.LoggingLevelWarning))
	require.True(t, th.Allows(mcp.LoggingLevelCritical))

	require.NoError(t, th.Set(mcp.LoggingLevelDebug))
	require.True(t, th.Allows(mcp.LoggingLevelDebug))

	require.ErrorIs(t, th.Set("verbose"), ErrInvalidLoggingLevel)
	require.Equal(t, mcp.LoggingLevelDebug, th.Level())
}

func TestSlogLevel(t *testing.T) {
	cases := map[mcp.LoggingLevel]slog.Level{
		mcp.LoggingLevelDebug:     slog.LevelDebug,
		mcp.LoggingLevelNotice:    slog.LevelInfo,
		mcp.LoggingLevelWarning:   slog.LevelWarn,
		mcp.LoggingLevelEmergency: slog.LevelError,
	}
	for in, want := range cases {
		got, err := SlogLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := SlogLevel("loud")
	require.ErrorIs(t, err, ErrInvalidLoggingLevel)
}
