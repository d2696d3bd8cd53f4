package utils

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced by the supply request engine. Callers branch on
// these with errors.Is; wrapping adds resource context.
var (
	ErrorRecordNotFound   = errors.New("record not found")
	ErrorAccessDenied     = errors.New("access denied")
	ErrorInvalidState     = errors.New("operation not allowed in current status")
	ErrorValidation       = errors.New("validation failed")
	ErrorInvalidReference = errors.New("referenced resource not found")
)

// ValidationError wraps ErrorValidation with a field-level message.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrorValidation}, args...)...)
}

// InvalidStateError wraps ErrorInvalidState with the offending status.
func InvalidStateError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrorInvalidState}, args...)...)
}

// InvalidReferenceError wraps ErrorInvalidReference naming the resource.
func InvalidReferenceError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrorInvalidReference}, args...)...)
}
