package shared

import "errors"

// Error kinds used to classify domain errors at the transport boundary.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable indicates a transient infrastructure failure; the request may be retried.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// KindError is a domain error tagged with one of the kinds above.
type KindError struct {
	msg  string
	kind error
}

// NewError builds a domain error of the given kind.
func NewError(kind error, msg string) error {
	return &KindError{msg: msg, kind: kind}
}

func (e *KindError) Error() string { return e.msg }

// Unwrap exposes the kind so errors.Is(err, ErrNotFound) matches.
func (e *KindError) Unwrap() error { return e.kind }
