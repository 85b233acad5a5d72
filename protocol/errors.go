package protocol

import (
	"errors"
	"fmt"
)

// ErrEncoding is matched by every EncodingError.
var ErrEncoding = errors.New("protocol encoding error")

// EncodingError reports a value that cannot be packed into a frame.
type EncodingError struct {
	// Field is the rejected field: "command", "byte1" or "byte2"
	Field string

	// Value is the rejected value
	Value int

	// Max is the largest accepted value for Field
	Max int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s is out of range: got %d, valid range is 0-%d", e.Field, e.Value, e.Max)
}

// Is reports whether target is ErrEncoding.
func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// IsEncodingError returns true if the error is an EncodingError.
func IsEncodingError(err error) bool {
	var encErr *EncodingError
	return errors.As(err, &encErr)
}
