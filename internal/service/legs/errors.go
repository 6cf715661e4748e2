package legs

import (
	"errors"
	"fmt"
)

// ErrInvalidState marks an operation attempted against a leg that is not in
// the status the operation requires.
var ErrInvalidState = errors.New("invalid leg state")

// ValidationError is a caller-input rejection. It is never retried and maps
// to a 400 at the transport.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a caller-input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
