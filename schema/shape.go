package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/ggoodman/mcp-server-template/mcp"
)

// FieldType is the enumerated type tag of a declared field.
type FieldType int

const (
	String FieldType = iota + 1
	Number
	Integer
	Boolean
)

// String returns the JSON Schema type name for t.
func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Number:
		return "number"
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// ParseFieldType maps a JSON Schema type name to a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	switch name {
	case "string":
		return String, nil
	case "number":
		return Number, nil
	case "integer":
		return Integer, nil
	case "boolean":
		return Boolean, nil
	default:
		return 0, fmt.Errorf("unsupported field type %q", name)
	}
}

// Field is a single declared input field.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Default     any
	Description string
}

// Shape is the ordered set of fields an operation accepts.
type Shape []Field

// Check reports declaration errors: empty or duplicate names, unknown type
// tags and defaults that do not convert to their field's type. Defaults are
// normalized in place.
func (s Shape) Check() error {
	seen := make(map[string]struct{}, len(s))
	for i := range s {
		f := &s[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Type < String || f.Type > Boolean {
			return fmt.Errorf("field %q: unknown type tag %d", f.Name, f.Type)
		}
		if f.Default == nil {
			continue
		}
		v, err := convertDefault(f.Type, f.Default)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		f.Default = v
	}
	return nil
}

// InputSchema renders the shape as an MCP tool input schema.
func (s Shape) InputSchema() mcp.ToolInputSchema {
	props := make(map[string]mcp.SchemaProperty, len(s))
	var required []string
	for _, f := range s {
		props[f.Name] = mcp.SchemaProperty{
			Type:        f.Type.String(),
			Description: f.Description,
			Default:     f.Default,
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// PromptArguments renders the shape as a prompt argument list.
func (s Shape) PromptArguments() []mcp.PromptArgument {
	if len(s) == 0 {
		return nil
	}
	out := make([]mcp.PromptArgument, 0, len(s))
	for _, f := range s {
		out = append(out, mcp.PromptArgument{
			Name:        f.Name,
			Description: f.Description,
			Required:    f.Required,
		})
	}
	return out
}

func convertDefault(t FieldType, v any) (any, error) {
	switch t {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Number:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f, nil
			}
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err == nil {
				return f, nil
			}
		}
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			if f, err := n.Float64(); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
				return int64(f), nil
			}
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return int64(n), nil
			}
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err == nil {
				return i, nil
			}
		}
	case Boolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err == nil {
				return parsed, nil
			}
		}
	}
	return nil, fmt.Errorf("default %v is not a valid %s", v, t)
}
