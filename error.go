package canecho

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var u unrecoverableError
	return !errors.As(err, &u)
}

var (
	ErrTimeout          = errors.New("timeout")
	ErrInvalidState     = errors.New("invalid driver state")
	ErrNotInstalled     = errors.New("driver not installed")
	ErrAlreadyInstalled = errors.New("driver already installed")
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrRemoteFrame      = errors.New("remote frames are not answered")
	ErrUnknownDriver    = errors.New("unknown driver")
)

// TransmitError is returned by a driver when a frame could not be queued for
// a reason other than a full queue.
type TransmitError struct {
	Code int
	Err  error
}

func (e *TransmitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transmit error=%d", e.Code)
	}
	return fmt.Sprintf("transmit error=%d: %v", e.Code, e.Err)
}

func (e *TransmitError) Unwrap() error {
	return e.Err
}
