// Package schema declares the input shapes of registered operations and
// validates raw JSON arguments against them.
//
// A Shape is an ordered list of fields, each tagged with one of four field
// types (String, Number, Integer, Boolean). Shapes are usually derived from a
// Go struct with Reflect at registration time; Validate itself never uses
// reflection and is keyed purely by the type tag:
//
//	type addArgs struct {
//		A float64 `json:"a" jsonschema:"description=First addend"`
//		B float64 `json:"b" jsonschema:"description=Second addend"`
//	}
//
//	shape := schema.MustReflect[addArgs]()
//	args, err := schema.Validate(shape, json.RawMessage(`{"a":2,"b":3}`))
//
// Validation semantics:
//   - Missing or null raw input is treated as an empty object. Any other
//     non-object input fails with an empty Field.
//   - A required field that is absent fails naming the field.
//   - A present field must match its type exactly. JSON null never matches
//     and strings are never coerced into numbers.
//   - Integer accepts any JSON number without a fractional part.
//   - Optional absent fields receive their declared default, if any.
//   - Fields the shape does not declare are dropped.
package schema
