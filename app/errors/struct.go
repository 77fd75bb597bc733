package errors

import (
	"errors"
	"maps"
)

// StructuredError is an error with a cause and key/value metadata, which Log
// renders as slog attributes.
type StructuredError struct {
	err      error
	metadata map[string]any
	cause    error
}

// Error implements the error interface. The cause is not included, since it's
// logged separately.
func (e StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to match both the error and its cause.
func (e StructuredError) Unwrap() []error {
	var errs []error
	if e.err != nil {
		errs = append(errs, e.err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Cause returns the underlying error, or nil.
func (e StructuredError) Cause() error {
	return e.cause
}

// Hint returns the suggestion shown with the error, or "".
func (e StructuredError) Hint() string {
	hint, _ := e.metadata[hintKey].(string)
	return hint
}

// Metadata returns a copy of the metadata.
func (e StructuredError) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

const hintKey = "hint"

// NewWithCause returns a StructuredError with the message msg, the given cause
// and metadata fields as alternating keys and values. If cause is itself a
// StructuredError, its metadata is inherited, and fields override it.
func NewWithCause(msg string, cause error, fields ...any) *StructuredError {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	metadata := map[string]any{}
	var inner *StructuredError
	if errors.As(cause, &inner) {
		maps.Copy(metadata, inner.metadata)
	}
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic("keys must be strings")
		}
		metadata[key] = fields[i+1]
	}

	return &StructuredError{err: errors.New(msg), metadata: metadata, cause: cause}
}

// NewRuntimeError returns an error that occurred while running a command. The
// optional hint is shown to the user after the error.
func NewRuntimeError(msg string, cause error, hint string) *StructuredError {
	var fields []any
	if hint != "" {
		fields = append(fields, hintKey, hint)
	}
	return NewWithCause(msg, cause, fields...)
}
