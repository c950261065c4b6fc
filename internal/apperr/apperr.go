// Package apperr defines the error taxonomy shared by every layer of the
// document memory service. Activities, workflows, and the public service
// facade all speak this vocabulary instead of ad-hoc error types so that
// retry policies and HTTP status mapping can be written once.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy entries from spec §7. It is the only
// information the public API ever exposes about a failure's category.
type Kind string

const (
	Validation     Kind = "validation"
	NotFound       Kind = "not_found"
	Storage        Kind = "storage"
	Upstream       Kind = "upstream"
	Rate           Kind = "rate"
	Authentication Kind = "authentication"
	Authorization  Kind = "authorization"
	Workflow       Kind = "workflow"
	Degraded       Kind = "degraded"
)

// Retryable reports whether an error of this kind should be retried by the
// orchestrator's backoff policy. Validation, Authentication, Authorization
// and NotFound are terminal; everything that crosses a network or storage
// boundary is retryable.
func (k Kind) Retryable() bool {
	switch k {
	case Validation, NotFound, Authentication, Authorization:
		return false
	default:
		return true
	}
}

// Error is the tagged-variant error carried through the system. Context
// holds structured fields for logging; values that look like secrets are
// redacted by the logging package before being written anywhere, never by
// Error itself, so callers retain the raw data for programmatic handling.
type Error struct {
	Kind        Kind
	Message     string
	Context     map[string]any
	Cause       error
	Correlation string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as Cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithContext attaches structured context and returns the same Error for
// chaining at the call site.
func (e *Error) WithContext(ctx map[string]any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		e.Context[k] = v
	}
	return e
}

// WithCorrelation attaches a correlation id, used by the Document Service to
// thread request ids through to logs and error payloads.
func (e *Error) WithCorrelation(id string) *Error {
	e.Correlation = id
	return e
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error; otherwise it classifies unknown errors as Upstream, which is the
// conservative choice for vendor/library errors that haven't been
// translated into the taxonomy yet.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Upstream
}

// Is reports whether KindOf(err) is kind: only the first *Error found in
// err's chain is compared, not any *Error it wraps in turn.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
