package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValidationError reports the first field that failed validation. Field is
// empty when the input as a whole is unacceptable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks raw against shape and returns the accepted arguments with
// defaults applied. On failure the error is a *ValidationError.
func Validate(shape Shape, raw json.RawMessage) (Args, error) {
	obj := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return nil, &ValidationError{Message: "arguments must be a JSON object"}
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, &ValidationError{Message: "arguments must be a JSON object"}
		}
	}

	args := make(Args, len(shape))
	for _, f := range shape {
		v, ok := obj[f.Name]
		if !ok {
			if f.Required {
				return nil, &ValidationError{
					Field:   f.Name,
					Message: fmt.Sprintf("missing required argument %q", f.Name),
				}
			}
			if f.Default != nil {
				d, err := convertDefault(f.Type, f.Default)
				if err != nil {
					return nil, &ValidationError{Field: f.Name, Message: err.Error()}
				}
				args[f.Name] = d
			}
			continue
		}

		val, ok := decodeValue(f.Type, v)
		if !ok {
			return nil, &ValidationError{
				Field:   f.Name,
				Message: fmt.Sprintf("argument %q must be %s", f.Name, article(f.Type)),
			}
		}
		args[f.Name] = val
	}
	return args, nil
}

func decodeValue(t FieldType, v json.RawMessage) (any, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return nil, false
	}
	switch t {
	case String:
		if v[0] != '"' {
			return nil, false
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, false
		}
		return s, true
	case Number:
		if !isNumber(v) {
			return nil, false
		}
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case Integer:
		if !isNumber(v) {
			return nil, false
		}
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, false
		}
		return int64(f), true
	case Boolean:
		switch string(v) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return nil, false
}

func isNumber(v json.RawMessage) bool {
	return v[0] == '-' || (v[0] >= '0' && v[0] <= '9')
}

func article(t FieldType) string {
	if t == Integer {
		return "an integer"
	}
	return "a " + t.String()
}
