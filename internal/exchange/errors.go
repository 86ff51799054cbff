// errors.go defines the typed error taxonomy for execution-path failures.
//
// Every adapter operation that fails surfaces an *Error carrying an ErrorKind
// so callers can branch on the failure class instead of string matching:
//
//   - Rejected:     terminal for the order (insufficient balance, price violation)
//   - Transient:    timeout / 5xx — the adapter retries, callers wait for next tick
//   - InvalidPrice: price not a tick multiple or outside (0, 1)
//   - InvalidSize:  size below minimum or malformed
//   - AuthFailure:  L1/L2 credentials rejected
//   - Unavailable:  endpoint unreachable after retries
package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an execution failure.
type ErrorKind int

const (
	KindRejected ErrorKind = iota
	KindTransient
	KindInvalidPrice
	KindInvalidSize
	KindAuthFailure
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "Rejected"
	case KindTransient:
		return "Transient"
	case KindInvalidPrice:
		return "InvalidPrice"
	case KindInvalidSize:
		return "InvalidSize"
	case KindAuthFailure:
		return "AuthFailure"
	case KindUnavailable:
		return "Unavailable"
	}
	return "Unknown"
}

// Error is a classified execution failure. Op names the operation that failed
// ("place", "cancel", ...), Msg carries the adapter's message.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error with a formatted message.
func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// wrapError builds an *Error around a cause.
func wrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: err.Error(), Err: err}
}

// Kind extracts the ErrorKind from err, ok=false when err is not an *Error.
func Kind(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRejected reports whether err is a terminal order rejection.
func IsRejected(err error) bool {
	k, ok := Kind(err)
	return ok && k == KindRejected
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	k, ok := Kind(err)
	return ok && k == KindTransient
}

// classifyStatus maps an HTTP response code onto an *Error. Only called for
// non-2xx responses.
func classifyStatus(op string, code int, body string) *Error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return newError(KindAuthFailure, op, "status %d: %s", code, body)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return newError(KindRejected, op, "status %d: %s", code, body)
	case code == http.StatusTooManyRequests:
		return newError(KindTransient, op, "status %d: rate limited", code)
	case code >= 500:
		return newError(KindTransient, op, "status %d: %s", code, body)
	default:
		return newError(KindUnavailable, op, "status %d: %s", code, body)
	}
}
