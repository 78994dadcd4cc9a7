package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Reflect derives a Shape from the struct type A. Field order follows the
// struct, fields tagged omitempty are optional, and the jsonschema tag
// supplies description and default values. Only string, number, integer and
// boolean properties are supported.
func Reflect[A any]() (Shape, error) {
	// The root schema is used directly instead of ExpandedStruct, which only
	// works for named types and panics on struct{}.
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		Anonymous:      true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return nil, fmt.Errorf("input type %T must be a struct", *new(A))
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	var shape Shape
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			prop := el.Value
			t, err := ParseFieldType(prop.Type)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", el.Key, err)
			}
			shape = append(shape, Field{
				Name:        el.Key,
				Type:        t,
				Required:    required[el.Key],
				Default:     prop.Default,
				Description: prop.Description,
			})
		}
	}
	if err := shape.Check(); err != nil {
		return nil, err
	}
	return shape, nil
}

// MustReflect is like Reflect but panics on error. It is meant for
// registration code that runs once at startup.
func MustReflect[A any]() Shape {
	shape, err := Reflect[A]()
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return shape
}
