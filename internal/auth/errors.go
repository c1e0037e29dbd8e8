package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenUnavailable matches every failure to produce a valid access token.
	ErrTokenUnavailable = errors.New("access token unavailable")

	// ErrLockTimeout is returned when the refresh lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for refresh lock")

	// ErrAuthorizationRequired means no token has been stored yet, or the stored
	// record is unusable. Only the interactive authorization flow can recover.
	ErrAuthorizationRequired = errors.New("authorization required")
)

// UnavailableError wraps the cause of a failed token acquisition.
// errors.Is(err, ErrTokenUnavailable) holds for every UnavailableError, and the
// cause chain stays inspectable with errors.Is and errors.As.
type UnavailableError struct {
	Cause error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return ErrTokenUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrTokenUnavailable, e.Cause)
}

// Unwrap returns the cause.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrTokenUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrTokenUnavailable
}

func unavailable(cause error) error {
	var existing *UnavailableError
	if errors.As(cause, &existing) {
		return cause
	}
	return &UnavailableError{Cause: cause}
}

// IsAuthorizationRequired reports whether err can only be resolved by running
// the authorization flow again.
func IsAuthorizationRequired(err error) bool {
	return errors.Is(err, ErrAuthorizationRequired)
}
