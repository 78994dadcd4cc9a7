// Package dispatch routes operation calls through lookup, validation and
// invocation, and turns every failure into a *CallError.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ggoodman/mcp-server-template/internal/logctx"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/registry"
	"github.com/ggoodman/mcp-server-template/schema"
	"github.com/google/uuid"
)

// Result is the normalized outcome of a successful call. Which fields are
// populated depends on the operation kind.
type Result struct {
	// Tools.
	Content []mcp.ContentBlock
	// Prompts.
	Description string
	Messages    []mcp.PromptMessage
	// Resources.
	Contents []mcp.ResourceContents
}

// Dispatcher executes calls against a registry. It holds no per-call state and
// is safe for concurrent use.
type Dispatcher struct {
	reg *registry.Registry
	log *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for call lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// New returns a Dispatcher for reg.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg: reg,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// List returns the registered descriptors of kind in registration order.
func (d *Dispatcher) List(kind registry.Kind) []registry.Descriptor {
	return d.reg.List(kind)
}

// HandleCall looks up name under kind, validates raw against its input shape
// and invokes the handler. A non-nil error is always a *CallError.
func (d *Dispatcher) HandleCall(ctx context.Context, kind registry.Kind, name string, raw json.RawMessage) (*Result, error) {
	desc, ok := d.reg.Lookup(kind, name)
	if !ok {
		cerr := &CallError{Kind: UnknownOperation, Message: fmt.Sprintf("unknown %s: %s", kind, name)}
		d.log.InfoContext(ctx, "dispatch.call.rejected",
			slog.String("kind", kind.String()),
			slog.String("name", name),
			slog.String("reason", cerr.Kind.String()),
		)
		return nil, cerr
	}
	return d.invoke(ctx, kind, desc, raw)
}

// ReadResource resolves a resource by URI and reads it.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (*Result, error) {
	desc, ok := d.reg.LookupURI(uri)
	if !ok {
		cerr := &CallError{Kind: UnknownOperation, Message: fmt.Sprintf("resource not found: %s", uri)}
		d.log.InfoContext(ctx, "dispatch.call.rejected",
			slog.String("kind", registry.Resource.String()),
			slog.String("uri", uri),
			slog.String("reason", cerr.Kind.String()),
		)
		return nil, cerr
	}
	return d.invoke(ctx, registry.Resource, desc, nil)
}

func (d *Dispatcher) invoke(ctx context.Context, kind registry.Kind, desc registry.Descriptor, raw json.RawMessage) (*Result, error) {
	start := time.Now()
	ctx = logctx.WithCallData(ctx, &logctx.CallData{
		Kind:   kind.String(),
		Name:   desc.Name,
		CallID: uuid.NewString(),
	})
	log := d.log

	log.DebugContext(ctx, "dispatch.call.received")

	args, err := schema.Validate(desc.Input, raw)
	if err != nil {
		cerr := &CallError{Kind: ValidationFailed, Message: err.Error(), Err: err}
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			cerr.Field = verr.Field
		}
		log.InfoContext(ctx, "dispatch.call.rejected",
			slog.String("reason", cerr.Kind.String()),
			slog.String("field", cerr.Field),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return nil, cerr
	}

	log.DebugContext(ctx, "dispatch.call.invoking")

	out, err := d.callHandler(ctx, desc.Handler, args)
	if err == nil {
		var res *Result
		res, err = render(kind, desc, out)
		if err == nil {
			log.InfoContext(ctx, "dispatch.call.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return res, nil
		}
	}

	cerr := &CallError{Kind: HandlerThrew, Message: err.Error(), Err: err}
	log.InfoContext(ctx, "dispatch.call.fail",
		slog.String("reason", cerr.Kind.String()),
		slog.String("err", err.Error()),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return nil, cerr
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (d *Dispatcher) callHandler(ctx context.Context, h registry.Handler, args schema.Args) (out registry.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &panicError{value: r, stack: debug.Stack()}
			d.log.ErrorContext(ctx, "dispatch.call.panic",
				slog.String("err", perr.Error()),
				slog.String("stack", string(perr.stack)),
			)
			out, err = nil, perr
		}
	}()
	return h(ctx, args)
}

func render(kind registry.Kind, desc registry.Descriptor, out registry.Output) (*Result, error) {
	switch kind {
	case registry.Tool:
		return renderTool(out)
	case registry.Prompt:
		return renderPrompt(desc, out)
	case registry.Resource:
		return renderResource(desc, out)
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

func renderTool(out registry.Output) (*Result, error) {
	switch v := out.(type) {
	case nil:
		return &Result{Content: []mcp.ContentBlock{}}, nil
	case registry.Text:
		return &Result{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: string(v)}}}, nil
	case registry.Blocks:
		if v == nil {
			v = registry.Blocks{}
		}
		return &Result{Content: []mcp.ContentBlock(v)}, nil
	case registry.Blob:
		block := mcp.ContentBlock{Data: base64.StdEncoding.EncodeToString(v.Data), MimeType: v.MimeType}
		switch {
		case strings.HasPrefix(v.MimeType, "image/"):
			block.Type = mcp.ContentTypeImage
		case strings.HasPrefix(v.MimeType, "audio/"):
			block.Type = mcp.ContentTypeAudio
		default:
			return nil, fmt.Errorf("tool cannot return binary content of type %q", v.MimeType)
		}
		return &Result{Content: []mcp.ContentBlock{block}}, nil
	default:
		return nil, fmt.Errorf("tool cannot return %T", out)
	}
}

func renderPrompt(desc registry.Descriptor, out registry.Output) (*Result, error) {
	res := &Result{Description: desc.Description}
	switch v := out.(type) {
	case nil:
		res.Messages = []mcp.PromptMessage{}
	case registry.Messages:
		res.Messages = []mcp.PromptMessage(v)
		if res.Messages == nil {
			res.Messages = []mcp.PromptMessage{}
		}
	case registry.Text:
		res.Messages = []mcp.PromptMessage{registry.UserText(string(v))}
	default:
		return nil, fmt.Errorf("prompt cannot return %T", out)
	}
	return res, nil
}

func renderResource(desc registry.Descriptor, out registry.Output) (*Result, error) {
	contents := mcp.ResourceContents{URI: desc.URI, MimeType: desc.MimeType}
	switch v := out.(type) {
	case nil:
	case registry.Text:
		contents.Text = string(v)
	case registry.Blob:
		contents.Blob = base64.StdEncoding.EncodeToString(v.Data)
		if v.MimeType != "" {
			contents.MimeType = v.MimeType
		}
	default:
		return nil, fmt.Errorf("resource cannot return %T", out)
	}
	return &Result{Contents: []mcp.ResourceContents{contents}}, nil
}
