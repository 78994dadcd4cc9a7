package registry

import (
	"context"
	"fmt"

	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/schema"
)

// Option configures a descriptor built by one of the constructors.
type Option func(*Descriptor)

// WithTitle sets the human-readable title used in listings.
func WithTitle(title string) Option {
	return func(d *Descriptor) { d.Title = title }
}

// WithDescription sets the description used in listings.
func WithDescription(desc string) Option {
	return func(d *Descriptor) { d.Description = desc }
}

// WithMimeType sets the MIME type of a resource.
func WithMimeType(mimeType string) Option {
	return func(d *Descriptor) { d.MimeType = mimeType }
}

// NewTool builds a tool descriptor whose input shape is reflected from the
// struct type A. The handler receives the validated arguments decoded into A.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (Output, error), opts ...Option) Descriptor {
	return build(name, schema.MustReflect[A](), typed(fn), opts)
}

// NewPrompt builds a prompt descriptor with arguments reflected from A.
func NewPrompt[A any](name string, fn func(ctx context.Context, args A) ([]mcp.PromptMessage, error), opts ...Option) Descriptor {
	h := func(ctx context.Context, args A) (Output, error) {
		msgs, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		return Messages(msgs), nil
	}
	return build(name, schema.MustReflect[A](), typed(h), opts)
}

// NewResource builds a resource descriptor served at uri. Resources take no
// arguments.
func NewResource(uri, name string, fn func(ctx context.Context) (Output, error), opts ...Option) Descriptor {
	d := build(name, nil, func(ctx context.Context, _ schema.Args) (Output, error) {
		return fn(ctx)
	}, opts)
	d.URI = uri
	return d
}

// NewToolFromShape builds a tool from an explicit shape and an untyped handler.
func NewToolFromShape(name string, shape schema.Shape, h Handler, opts ...Option) Descriptor {
	return build(name, shape, h, opts)
}

// NewPromptFromShape builds a prompt from an explicit shape and an untyped
// handler. The handler must return Messages.
func NewPromptFromShape(name string, shape schema.Shape, h Handler, opts ...Option) Descriptor {
	return build(name, shape, h, opts)
}

func build(name string, shape schema.Shape, h Handler, opts []Option) Descriptor {
	d := Descriptor{Name: name, Input: shape, Handler: h}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func typed[A any](fn func(ctx context.Context, args A) (Output, error)) Handler {
	return func(ctx context.Context, args schema.Args) (Output, error) {
		var a A
		if err := args.Decode(&a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		return fn(ctx, a)
	}
}
