package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a turn-processing failure so the transport layer can
// render a user-facing explanation without inspecting internals.
type ErrorKind string

const (
	// KindInput: empty or unparseable text. Recovered locally with a help prompt.
	KindInput ErrorKind = "input_error"

	// KindUnsatisfiable: a CollectionCreate turn with no cached results.
	// Surfaced to the user as a message, never as an exception.
	KindUnsatisfiable ErrorKind = "unsatisfiable_intent"

	// KindProvider: search or collection backend failure. Retried at most
	// once by the engine, then surfaced.
	KindProvider ErrorKind = "provider_error"

	// KindAuth: missing or invalid token for collection creation. Always
	// surfaced, never retried.
	KindAuth ErrorKind = "auth_error"

	// KindModel: the language-model call failed or timed out. Surfaced with
	// a generic fallback message; the turn's write-back is skipped entirely.
	KindModel ErrorKind = "model_unavailable"
)

// Error carries an error kind plus a human-readable message alongside the
// underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string // user-renderable
	Err     error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a kinded error wrapping cause (which may be nil).
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the ErrorKind from err, or KindProvider if err carries
// no kind (an unclassified failure from a collaborator).
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindProvider
}

// UserMessage returns the renderable message from err, falling back to a
// generic apology for unclassified errors.
func UserMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return "Sorry, I encountered an error processing your request. Please try again."
}
