package directory

import (
	"errors"
	"fmt"
)

// Error kinds returned by Service operations. Every error a Service returns
// wraps exactly one of them.
var (
	// ErrValidation means the request is malformed; nothing happened.
	ErrValidation = errors.New("validation error")
	// ErrRouting means the target location can't be reached from here;
	// nothing happened.
	ErrRouting = errors.New("routing error")
	// ErrNotFound means a record the operation needs doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrRemoteCall means a forwarded call or a required upward call failed.
	// Local side effects may already have happened.
	ErrRemoteCall = errors.New("remote call failed")
	// ErrStorage means the local store rejected the operation.
	ErrStorage = errors.New("storage error")
)

// Kind names the error kind for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRouting):
		return "routing"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRemoteCall):
		return "remote_call"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}

// Validation returns an ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
