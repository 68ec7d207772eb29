// Package errors defines the settlement engine's error taxonomy. Every
// failure surfaced by the ledger or the platform carries one of the kinds
// below; callers branch on the kind, never on the message.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds. These are the complete set of failure categories the engine
// reports; adapter faults that do not map to one of them use KindInternal.
const (
	KindUnauthorized        = "Unauthorized"
	KindNotFound            = "NotFound"
	KindInvalidListing      = "InvalidListing"
	KindInsufficientBalance = "InsufficientBalance"
	KindSoldOut             = "SoldOut"
	KindPaymentInsufficient = "PaymentInsufficient"
	KindReserveInsufficient = "ReserveInsufficient"
	KindInternal            = "Internal"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	Unauthorized        = &Error{Kind: KindUnauthorized}
	NotFound            = &Error{Kind: KindNotFound}
	InvalidListing      = &Error{Kind: KindInvalidListing}
	InsufficientBalance = &Error{Kind: KindInsufficientBalance}
	SoldOut             = &Error{Kind: KindSoldOut}
	PaymentInsufficient = &Error{Kind: KindPaymentInsufficient}
	ReserveInsufficient = &Error{Kind: KindReserveInsufficient}
	Internal            = &Error{Kind: KindInternal}
)

// Error is a kind-tagged error with an optional cause chain.
type Error struct {
	// Kind is the failure category, one of the Kind constants.
	Kind string `json:"kind"`
	// Message is the human readable description of this failure.
	Message string `json:"message"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

func Wrap(err error) *Error {
	return &Error{Kind: KindInternal, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap makes a copy of the error with the given cause attached
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// Is implements the needed interface for errors.Is.
// Two Errors match when their kinds match.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
