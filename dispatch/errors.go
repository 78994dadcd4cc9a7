package dispatch

import "fmt"

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	// UnknownOperation: nothing is registered under the requested kind and name.
	UnknownOperation ErrorKind = iota + 1
	// ValidationFailed: the arguments do not satisfy the input shape.
	ValidationFailed
	// HandlerThrew: the handler returned an error, panicked or produced
	// output that cannot be rendered for its kind.
	HandlerThrew
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownOperation:
		return "unknown_operation"
	case ValidationFailed:
		return "validation_failed"
	case HandlerThrew:
		return "handler_threw"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// CallError is the only error type returned by the Dispatcher.
type CallError struct {
	Kind    ErrorKind
	Message string
	// Field names the offending argument for ValidationFailed.
	Field string
	// Err is the underlying cause, if any.
	Err error
}

func (e *CallError) Error() string {
	return e.Message
}

func (e *CallError) Unwrap() error {
	return e.Err
}
