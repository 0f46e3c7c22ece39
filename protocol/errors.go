package protocol

import (
	"errors"
	"fmt"
)

// EncodingError reports a value the codec could not reduce to a transmissible
// form. The emitter degrades to a placeholder rather than aborting the run.
type EncodingError struct {
	TypeName string
	Err      error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot encode value of type %s: %v", e.TypeName, e.Err)
	}
	return fmt.Sprintf("cannot encode value of type %s", e.TypeName)
}

// Unwrap implements the errors.Unwrap interface
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// IsEncodingError checks if the error is or wraps an EncodingError
func IsEncodingError(err error) bool {
	var encErr *EncodingError
	return err != nil && errors.As(err, &encErr)
}

// DecodeError reports a frame argument that could not be decoded. Offset is
// the byte position in the input where the data stopped being valid, which
// localizes corruption from interleaved writes on the shared channel.
type DecodeError struct {
	Offset int
	Input  string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode frame argument at offset %d: %v", e.Offset, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError checks if the error is or wraps a DecodeError
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return err != nil && errors.As(err, &decErr)
}
