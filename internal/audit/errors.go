package audit

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against an *Error.
var (
	ErrValidation = errors.New("validation error")
	ErrRepository = errors.New("repository error")
	ErrFetch      = errors.New("fetch error")
	ErrProbe      = errors.New("probe error")
	ErrUnexpected = errors.New("unexpected error")
)

// Repository lookup and state errors.
var (
	ErrNotFound          = errors.New("audit not found")
	ErrInvalidTransition = errors.New("invalid audit status transition")
)

// Caller-facing messages.
const (
	MsgInvalidURL   = "Invalid URL provided. Please enter a full URL (e.g., https://example.com)."
	MsgCreateFailed = "Failed to create audit record."
	MsgUnexpected   = "An unexpected error occurred during the audit."
)

// Error is returned to callers of StartAudit. Its message is safe to show;
// the underlying cause is kept for logs only.
type Error struct {
	Kind    error
	Message string
	cause   error
}

// NewError builds an Error of the given kind.
func NewError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// FetchFailed builds the fatal fetch error for target.
func FetchFailed(target string, cause error) *Error {
	return NewError(ErrFetch, fmt.Sprintf("Failed to fetch content from %s.", target), cause)
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrFetch) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Cause returns the internal error that produced e.
func (e *Error) Cause() error {
	return e.cause
}
