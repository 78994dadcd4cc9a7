// Package calculator registers arithmetic tools. Business-rule violations
// (division by zero, negative square roots, non-integral factorials) are
// returned as handler errors.
package calculator

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/ggoodman/mcp-server-template/registry"
)

var (
	ErrDivisionByZero    = errors.New("division by zero")
	ErrNegativeSqrt      = errors.New("cannot take square root of negative number")
	ErrFactorialDomain   = errors.New("factorial is only defined for non-negative integers")
	ErrFactorialOverflow = errors.New("factorial overflow")
	ErrNotFinite         = errors.New("result is not a finite number")
)

// MaxFactorial is the largest n whose factorial is a finite float64.
const MaxFactorial = 170

type binaryArgs struct {
	A float64 `json:"a" jsonschema:"description=First operand"`
	B float64 `json:"b" jsonschema:"description=Second operand"`
}

type unaryArgs struct {
	A float64 `json:"a" jsonschema:"description=Operand"`
}

type powerArgs struct {
	Base     float64 `json:"base" jsonschema:"description=Base"`
	Exponent float64 `json:"exponent" jsonschema:"description=Exponent"`
}

// Register adds the calculator tools to reg.
func Register(reg *registry.Registry) {
	reg.Register(registry.Tool, registry.NewTool("add", func(_ context.Context, in binaryArgs) (registry.Output, error) {
		return number(in.A + in.B)
	}, registry.WithTitle("Add"), registry.WithDescription("Adds two numbers")))

	reg.Register(registry.Tool, registry.NewTool("subtract", func(_ context.Context, in binaryArgs) (registry.Output, error) {
		return number(in.A - in.B)
	}, registry.WithTitle("Subtract"), registry.WithDescription("Subtracts b from a")))

	reg.Register(registry.Tool, registry.NewTool("multiply", func(_ context.Context, in binaryArgs) (registry.Output, error) {
		return number(in.A * in.B)
	}, registry.WithTitle("Multiply"), registry.WithDescription("Multiplies two numbers")))

	reg.Register(registry.Tool, registry.NewTool("divide", func(_ context.Context, in binaryArgs) (registry.Output, error) {
		if in.B == 0 {
			return nil, ErrDivisionByZero
		}
		return number(in.A / in.B)
	}, registry.WithTitle("Divide"), registry.WithDescription("Divides a by b")))

	reg.Register(registry.Tool, registry.NewTool("sqrt", func(_ context.Context, in unaryArgs) (registry.Output, error) {
		if in.A < 0 {
			return nil, ErrNegativeSqrt
		}
		return number(math.Sqrt(in.A))
	}, registry.WithTitle("Square Root"), registry.WithDescription("Square root of a non-negative number")))

	reg.Register(registry.Tool, registry.NewTool("factorial", func(_ context.Context, in unaryArgs) (registry.Output, error) {
		v, err := Factorial(in.A)
		if err != nil {
			return nil, err
		}
		return number(v)
	}, registry.WithTitle("Factorial"), registry.WithDescription("Factorial of a non-negative integer")))

	reg.Register(registry.Tool, registry.NewTool("power", func(_ context.Context, in powerArgs) (registry.Output, error) {
		return number(math.Pow(in.Base, in.Exponent))
	}, registry.WithTitle("Power"), registry.WithDescription("Raises base to exponent")))
}

// Factorial computes n! in float64. n must be a non-negative integer no
// larger than MaxFactorial.
func Factorial(n float64) (float64, error) {
	if n < 0 || n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, ErrFactorialDomain
	}
	if n > MaxFactorial {
		return 0, ErrFactorialOverflow
	}
	result := 1.0
	for i := 2.0; i <= n; i++ {
		result *= i
	}
	return result, nil
}

func number(v float64) (registry.Output, error) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil, ErrNotFinite
	}
	return registry.Text(strconv.FormatFloat(v, 'f', -1, 64)), nil
}
