package schema

import (
	"encoding/json"
	"fmt"
)

// Args holds validated arguments keyed by field name. Values are string,
// float64, int64 or bool according to the field's type.
type Args map[string]any

// String returns the named string argument, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Float returns the named Number argument. Integer arguments are widened.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns the named Integer argument.
func (a Args) Int(name string) int64 {
	i, _ := a[name].(int64)
	return i
}

// Bool returns the named Boolean argument.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Decode fills dst, a pointer to a struct whose json tags match the shape the
// arguments were validated against.
func (a Args) Decode(dst any) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}
