// Package fault defines the error taxonomy returned across the core boundary.
// Handlers map these deterministically to user-facing responses; nothing in
// the core is fatal to the process.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure.
type Kind int

const (
	// KindValidation means the caller sent malformed input. Not retryable.
	KindValidation Kind = iota
	// KindConflict means the requested state already exists or the resource
	// is taken (slot booked, team registered, free quota exhausted).
	KindConflict
	// KindInsufficientPoints is a business-rule rejection of a points debit.
	KindInsufficientPoints
	// KindGateway is a transport or API failure talking to the payment
	// provider. Retryable by the caller, never retried internally.
	KindGateway
	// KindAmountMismatch means the gateway-reported amount differs from the
	// expected amount. Security relevant; the reservation is cancelled.
	KindAmountMismatch
	// KindNotFound means an unknown id or gateway reference.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindInsufficientPoints:
		return "insufficient_points"
	case KindGateway:
		return "gateway"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, or ok=false if err carries no
// classification.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
