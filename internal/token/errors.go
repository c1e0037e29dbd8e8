package token

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no usable record is persisted: the file is
	// missing, cannot be decoded, or fails validation.
	ErrNotFound = errors.New("token record not found")

	// ErrLockWait is returned when the store lock could not be taken in time.
	ErrLockWait = errors.New("timed out waiting for token store lock")

	// ErrIncompleteRecord means exactly one of access/refresh token is set.
	ErrIncompleteRecord = errors.New("access and refresh token must both be present or both be absent")

	// ErrImplausibleRefreshToken means the refresh token is shorter than the
	// configured minimum, which usually indicates corrupt storage.
	ErrImplausibleRefreshToken = errors.New("refresh token is implausibly short")

	// ErrMalformedAccessToken means the access token is not a three-segment JWT.
	ErrMalformedAccessToken = errors.New("access token is not a well-formed JWT")
)

// StorageError describes a failure reading or writing the persisted record.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("token store %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
