package connector

import (
	"errors"
	"fmt"
)

// ErrConnectorNotFound is returned by Resolve for unregistered node types
var ErrConnectorNotFound = errors.New("connector not found")

// PermanentError marks a host capability failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent reports true
func (e *PermanentError) Permanent() bool { return true }

// Permanent wraps err so FromCapabilityError maps it to Fatal
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// permanent is implemented by errors that know they cannot succeed on retry,
// including errors from capability packages that do not import this one
type permanent interface {
	Permanent() bool
}

// IsPermanent reports whether any error in the chain declares itself permanent
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// FromCapabilityError maps a host capability failure to a result. Failures are
// retryable unless the capability marked them permanent.
func FromCapabilityError(err error) Result {
	if IsPermanent(err) {
		return Fatal(err)
	}
	return Retryable(err)
}
