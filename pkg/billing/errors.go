package billing

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
)

// Kind classifies billing errors for callers
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorizationDenied
	KindNotFound
	KindValidationFailed
	KindUpstreamFailure
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindNotFound:
		return "not_found"
	case KindValidationFailed:
		return "validation_failed"
	case KindUpstreamFailure:
		return "upstream_failure"
	default:
		return "internal"
	}
}

// Error is a billing error with a kind
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Denied returns an AuthorizationDenied error
func Denied(format string, args ...any) error {
	return &Error{Kind: KindAuthorizationDenied, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NotFound error
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Invalid returns a ValidationFailed error
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a processor failure. The processor's own message is kept when present.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	msg := err.Error()
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		msg = se.Msg
	}
	return &Error{Kind: KindUpstreamFailure, Message: msg, Err: err}
}

// KindOf returns the kind of err, KindInternal for untyped errors
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a NotFound billing error
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
