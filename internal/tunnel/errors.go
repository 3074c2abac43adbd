package tunnel

import (
	"errors"
	"fmt"
	"time"
)

// BinaryNotFoundError means the tunnel binary is missing or not executable.
// It is fatal for the whole run.
type BinaryNotFoundError struct {
	Binary string
	Err    error
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("tunnel binary %q not found or not executable: %v", e.Binary, e.Err)
}

func (e *BinaryNotFoundError) Unwrap() error {
	return e.Err
}

// OpenTimeoutError means the tunnel never reported it was connected
type OpenTimeoutError struct {
	Timeout time.Duration
}

func (e *OpenTimeoutError) Error() string {
	return fmt.Sprintf("tunnel failed to open within %s", e.Timeout)
}

// ExitedError means the tunnel process exited before it was connected
type ExitedError struct {
	Err error
}

func (e *ExitedError) Error() string {
	if e.Err == nil {
		return "tunnel process exited before connecting"
	}
	return fmt.Sprintf("tunnel process exited before connecting: %v", e.Err)
}

func (e *ExitedError) Unwrap() error {
	return e.Err
}

// IsBinaryNotFound checks if the error is or wraps a BinaryNotFoundError
func IsBinaryNotFound(err error) bool {
	var target *BinaryNotFoundError
	return err != nil && errors.As(err, &target)
}

// IsOpenTimeout checks if the error is or wraps an OpenTimeoutError
func IsOpenTimeout(err error) bool {
	var target *OpenTimeoutError
	return err != nil && errors.As(err, &target)
}
