// Package registry holds the named operations a server exposes. Each
// operation is a Descriptor registered under a Kind (tool, prompt or
// resource). Registration happens at startup; Freeze makes the registry
// read-only before serving begins.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-server-template/schema"
)

// ErrFrozen is the error carried by the panic raised when Register is called
// after Freeze.
var ErrFrozen = errors.New("registry: frozen")

// Kind distinguishes the three operation namespaces.
type Kind int

const (
	Tool Kind = iota + 1
	Prompt
	Resource
)

func (k Kind) String() string {
	switch k {
	case Tool:
		return "tool"
	case Prompt:
		return "prompt"
	case Resource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) valid() bool { return k >= Tool && k <= Resource }

// Handler implements an operation. It receives arguments that already
// satisfy the descriptor's input shape.
type Handler func(ctx context.Context, args schema.Args) (Output, error)

// Descriptor describes a registered operation.
type Descriptor struct {
	Name        string
	Title       string
	Description string
	Input       schema.Shape
	Handler     Handler

	// Resources only.
	URI      string
	MimeType string
}

// Registry maps (kind, name) to descriptors. The zero value is not usable;
// call New.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool

	order map[Kind][]string
	byKey map[Kind]map[string]Descriptor
	byURI map[string]string
}

// New returns an empty, writable registry.
func New() *Registry {
	r := &Registry{
		order: make(map[Kind][]string, 3),
		byKey: make(map[Kind]map[string]Descriptor, 3),
		byURI: make(map[string]string),
	}
	for _, k := range []Kind{Tool, Prompt, Resource} {
		r.byKey[k] = make(map[string]Descriptor)
	}
	return r
}

// Register adds d under kind. Registering a name that already exists replaces
// the earlier descriptor and keeps its listing position. Register panics if
// the registry is frozen or the descriptor is malformed.
func (r *Registry) Register(kind Kind, d Descriptor) {
	if !kind.valid() {
		panic(fmt.Sprintf("registry: unknown kind %d for %q", int(kind), d.Name))
	}
	if d.Name == "" {
		panic(fmt.Sprintf("registry: empty %s name", kind))
	}
	if d.Handler == nil {
		panic(fmt.Sprintf("registry: nil handler for %s %q", kind, d.Name))
	}
	if kind == Resource && d.URI == "" {
		panic(fmt.Sprintf("registry: resource %q has no URI", d.Name))
	}
	d.Input = slices.Clone(d.Input)
	if err := d.Input.Check(); err != nil {
		panic(fmt.Sprintf("registry: %s %q: %v", kind, d.Name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		panic(fmt.Errorf("%w: cannot register %s %q", ErrFrozen, kind, d.Name))
	}

	prev, exists := r.byKey[kind][d.Name]
	if !exists {
		r.order[kind] = append(r.order[kind], d.Name)
	}
	if kind == Resource {
		if exists && r.byURI[prev.URI] == d.Name {
			delete(r.byURI, prev.URI)
		}
		r.byURI[d.URI] = d.Name
	}
	r.byKey[kind][d.Name] = d
}

// Freeze makes the registry read-only. Reads after Freeze take no locks.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Lookup returns the descriptor registered as name under kind.
func (r *Registry) Lookup(kind Kind, name string) (Descriptor, bool) {
	defer r.rlock()()
	d, ok := r.byKey[kind][name]
	return d, ok
}

// LookupURI returns the resource registered at uri.
func (r *Registry) LookupURI(uri string) (Descriptor, bool) {
	defer r.rlock()()
	name, ok := r.byURI[uri]
	if !ok {
		return Descriptor{}, false
	}
	d, ok := r.byKey[Resource][name]
	return d, ok
}

// List returns the descriptors of kind in registration order.
func (r *Registry) List(kind Kind) []Descriptor {
	defer r.rlock()()
	names := r.order[kind]
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.byKey[kind][name])
	}
	return out
}
