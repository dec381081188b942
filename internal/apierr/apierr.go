// Package apierr implements the error taxonomy the core raises: each
// kind is a distinct Go type so callers can errors.As-dispatch on it
// instead of matching strings, generalizing the
// common.APIError{Status, Message, Fields} idiom beyond HTTP handlers.
package apierr

import "fmt"

// Kind identifies a taxonomy member independent of its message.
type Kind string

const (
	KindBadRequest     Kind = "BadRequest"
	KindNotFound       Kind = "NotFound"
	KindAuthExhausted  Kind = "AuthExhausted"
	KindUpstream       Kind = "UpstreamFailure"
	KindRateLimited    Kind = "RateLimited"
	KindBlobTooLarge   Kind = "BlobTooLarge"
	KindCancelled      Kind = "Cancelled"
	KindStalled        Kind = "Stalled"
	KindInternal       Kind = "Internal"
)

// Error is the concrete type behind every taxonomy member.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error    { return newf(KindBadRequest, format, args...) }
func NotFound(format string, args ...any) *Error       { return newf(KindNotFound, format, args...) }
func Internal(format string, args ...any) *Error       { return newf(KindInternal, format, args...) }
func Cancelled(format string, args ...any) *Error      { return newf(KindCancelled, format, args...) }
func Stalled(format string, args ...any) *Error        { return newf(KindStalled, format, args...) }
func BlobTooLarge(format string, args ...any) *Error   { return newf(KindBlobTooLarge, format, args...) }

// RateLimited marks an UpstreamFailure that specifically mandates backoff.
func RateLimited(format string, args ...any) *Error { return newf(KindRateLimited, format, args...) }

// Upstream wraps an error returned by the SocialClient capability.
func Upstream(cause error, format string, args ...any) *Error {
	e := newf(KindUpstream, format, args...)
	e.Cause = cause
	return e
}

// AuthExhausted aggregates the causes of all three failed auth methods.
func AuthExhausted(refreshErr, resumeErr, loginErr error) *Error {
	return &Error{
		Kind:    KindAuthExhausted,
		Message: "all authentication methods failed",
		Fields: map[string]any{
			"refresh": errString(refreshErr),
			"resume":  errString(resumeErr),
			"login":   errString(loginErr),
		},
		Cause: lastNonNil(refreshErr, resumeErr, loginErr),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func lastNonNil(errs ...error) error {
	var last error
	for _, e := range errs {
		if e != nil {
			last = e
		}
	}
	return last
}

// Retriable reports whether the queue backend should retry this error
// rather than treat it as terminal.
func Retriable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return true
	}
	switch e.Kind {
	case KindAuthExhausted, KindBadRequest, KindNotFound, KindStalled:
		return false
	default:
		return true
	}
}
