package domain

import "errors"

var (
	// ErrNotFound is returned when an operation addresses a message or thread
	// that has no record.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned for malformed or missing input to a write.
	ErrInvalid = errors.New("invalid input")
)

// ValidationError describes which input field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
