// Package callerr classifies participant-side failures. Each error carries
// one of the sentinel kinds so callers can decide between retrying,
// reconnecting and giving up with errors.Is.
package callerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a signaling message the relay rejected
	ErrValidation = errors.New("validation error")
	// ErrMediaAcquisition marks camera, microphone or display capture that was denied or unavailable
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrNegotiation marks a description or candidate that could not be applied
	ErrNegotiation = errors.New("negotiation failed")
	// ErrConnectivity marks a lost peer or signaling connection
	ErrConnectivity = errors.New("connectivity failure")
	// ErrPlatformUnsupported marks a capability this platform does not offer
	ErrPlatformUnsupported = errors.New("platform unsupported")
)

var kinds = []error{
	ErrValidation,
	ErrMediaAcquisition,
	ErrNegotiation,
	ErrConnectivity,
	ErrPlatformUnsupported,
}

// Error is a failure of one client operation, classified by kind
type Error struct {
	Op      string
	Kind    error
	Err     error
	Details string
}

// Error formats the operation with its kind and cause
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New classifies err as kind for operation op
func New(kind error, op string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap is New with a message for the user
func Wrap(kind error, op string, err error, details string) *Error {
	return &Error{Op: op, Kind: kind, Err: err, Details: details}
}

// KindOf returns the sentinel kind of err, or nil when err is unclassified
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the failure leaves the session in a state the
// user can retry from. Only unsupported capabilities are final.
func Retryable(err error) bool {
	return !errors.Is(err, ErrPlatformUnsupported)
}
