package template

import (
	"context"
	"testing"

	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/notify"
	"github.com/ggoodman/mcp-server-template/registry"
	"github.com/ggoodman/mcp-server-template/schema"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	levels []mcp.LoggingLevel
	data   []any
}

func (c *captureSink) Log(_ context.Context, level mcp.LoggingLevel, _ string, data any) error {
	c.levels = append(c.levels, level)
	c.data = append(c.data, data)
	return nil
}

func (c *captureSink) Progress(context.Context, float64, float64, string) error { return nil }

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	Register(reg, nil)
	return reg
}

func TestGreet(t *testing.T) {
	d, ok := newRegistry(t).Lookup(registry.Tool, "greet")
	require.True(t, ok)
	out, err := d.Handler(context.Background(), schema.Args{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, registry.Text("Hello, Ada!"), out)
}

func TestGreetingPrompt(t *testing.T) {
	d, ok := newRegistry(t).Lookup(registry.Prompt, "greeting-template")
	require.True(t, ok)
	require.Equal(t, "name", d.Input[0].Name)
	require.True(t, d.Input[0].Required)

	out, err := d.Handler(context.Background(), schema.Args{"name": "Ada"})
	require.NoError(t, err)
	msgs := out.(registry.Messages)
	require.Len(t, msgs, 1)
	require.Equal(t, "Please greet Ada in a friendly manner.", msgs[0].Content.Text)
}

func TestLogToolsMirrorToClient(t *testing.T) {
	reg := newRegistry(t)
	sink := &captureSink{}
	ctx := notify.WithSink(context.Background(), sink)

	d, _ := reg.Lookup(registry.Tool, "log-error")
	out, err := d.Handler(ctx, schema.Args{})
	require.NoError(t, err)
	require.Equal(t, registry.Text("Log successfully printed"), out)
	require.Equal(t, []mcp.LoggingLevel{mcp.LoggingLevelWarning, mcp.LoggingLevelError}, sink.levels)
	require.Equal(t, []any{"This is a warning log", "This is an error log"}, sink.data)
}

func TestGreetingResource(t *testing.T) {
	d, ok := newRegistry(t).LookupURI(GreetingURI)
	require.True(t, ok)
	require.Equal(t, "greeting-resource", d.Name)
	require.Equal(t, "text/plain", d.MimeType)
	out, err := d.Handler(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, registry.Text("Hello, world!"), out)
}
