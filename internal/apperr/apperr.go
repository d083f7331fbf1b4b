// Package apperr defines the typed error taxonomy shared by the proxy:
// configuration errors (fatal at startup), parse errors (bad upstream
// calendar data), transform errors (rule applied to an event missing
// required fields), and fetch errors (network/storage failures in the
// cache-fetch layer).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for propagation decisions (startup abort vs.
// per-request failure) and HTTP status mapping in the web layer.
type Kind string

const (
	KindConfig    Kind = "config"
	KindParse     Kind = "parse"
	KindTransform Kind = "transform"
	KindFetch     Kind = "fetch"
)

// Error is a typed domain error. The zero Kind is never produced.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context message to an existing error.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err. Errors that are not *Error (or do
// not wrap one) report an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
