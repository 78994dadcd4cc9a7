// Package template registers the greeting prompt, tools and resource the
// server ships with by default.
package template

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/notify"
	"github.com/ggoodman/mcp-server-template/registry"
)

// GreetingURI is the URI of the static greeting resource.
const GreetingURI = "https://example.com/greetings/default"

type promptArgs struct {
	Name string `json:"name" jsonschema:"description=Name to include in greeting"`
}

type greetArgs struct {
	Name string `json:"name" jsonschema:"description=Name to greet"`
}

// Register adds the template operations to reg. The log tools write to log
// and mirror each line to the client.
func Register(reg *registry.Registry, log *slog.Logger) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	reg.Register(registry.Prompt, registry.NewPrompt("greeting-template", func(_ context.Context, in promptArgs) ([]mcp.PromptMessage, error) {
		return []mcp.PromptMessage{
			registry.UserText(fmt.Sprintf("Please greet %s in a friendly manner.", in.Name)),
		}, nil
	}, registry.WithDescription("A simple greeting prompt template")))

	reg.Register(registry.Tool, registry.NewTool("greet", func(_ context.Context, in greetArgs) (registry.Output, error) {
		return registry.Text(fmt.Sprintf("Hello, %s!", in.Name)), nil
	}, registry.WithDescription("A simple greeting tool")))

	reg.Register(registry.Tool, registry.NewTool("log-info", func(ctx context.Context, _ struct{}) (registry.Output, error) {
		emit(ctx, log, slog.LevelInfo, mcp.LoggingLevelInfo, "This is an info log")
		emit(ctx, log, slog.LevelInfo, mcp.LoggingLevelInfo, "This is another info log")
		return registry.Text("Log successfully printed"), nil
	}, registry.WithDescription("A simple tool that logs an info message")))

	reg.Register(registry.Tool, registry.NewTool("log-error", func(ctx context.Context, _ struct{}) (registry.Output, error) {
		emit(ctx, log, slog.LevelWarn, mcp.LoggingLevelWarning, "This is a warning log")
		emit(ctx, log, slog.LevelError, mcp.LoggingLevelError, "This is an error log")
		return registry.Text("Log successfully printed"), nil
	}, registry.WithDescription("A simple tool that logs an error message")))

	reg.Register(registry.Resource, registry.NewResource(GreetingURI, "greeting-resource", func(context.Context) (registry.Output, error) {
		return registry.Text("Hello, world!"), nil
	}, registry.WithMimeType("text/plain")))
}

func emit(ctx context.Context, log *slog.Logger, level slog.Level, clientLevel mcp.LoggingLevel, msg string) {
	log.Log(ctx, level, "template.log_tool", slog.String("line", msg))
	if err := notify.Log(ctx, clientLevel, msg); err != nil {
		log.WarnContext(ctx, "template.log_tool.notify_fail", slog.String("err", err.Error()))
	}
}
