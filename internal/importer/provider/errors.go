package provider

import "errors"

// Class separates failures the caller may retry from ones it must not.
type Class int

const (
	// ClassTransient marks rate limits, timeouts, and other failures
	// expected to clear on their own.
	ClassTransient Class = iota
	// ClassFatal marks auth failures, malformed responses, and anything
	// else a retry cannot fix.
	ClassFatal
)

// Error classifies a provider failure. The pipeline's retry helper checks
// the class with errors.As.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Class == ClassTransient {
		return "transient provider error: " + e.Err.Error()
	}
	return "fatal provider error: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider failure.
func Transient(err error) error {
	return &Error{Class: ClassTransient, Err: err}
}

// Fatal wraps err as a non-retryable provider failure.
func Fatal(err error) error {
	return &Error{Class: ClassFatal, Err: err}
}

// IsTransient reports whether err is classified as retryable. Unclassified
// errors are treated as fatal.
func IsTransient(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class == ClassTransient
	}
	return false
}
