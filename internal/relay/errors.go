package relay

import (
	"errors"
	"fmt"
)

// ValidationError rejects one inbound message. It is reported to the sender
// as an error frame; the connection stays open.
type ValidationError struct {
	Reason string
}

// Error returns the reason sent back to the client
func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
