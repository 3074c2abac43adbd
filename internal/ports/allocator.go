package ports

import (
	"errors"
	"fmt"
	"net"
)

// MaxBindAttempts bounds how many times a single port bind is retried
const MaxBindAttempts = 5

// AllocationError is returned when free local ports cannot be obtained
type AllocationError struct {
	Requested int
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate %d local ports: %v", e.Requested, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// IsAllocationError checks if the error is or wraps an AllocationError
func IsAllocationError(err error) bool {
	var allocErr *AllocationError
	return err != nil && errors.As(err, &allocErr)
}

// Allocate returns n distinct loopback ports that were free at the time of
// the call. The sockets are released before returning, so another process
// can still claim a port before the tunnel binds it.
func Allocate(n int) ([]int, error) {
	if n < 1 {
		return nil, &AllocationError{Requested: n, Err: fmt.Errorf("port count must be at least 1")}
	}

	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for len(ports) < n {
		l, err := bindEphemeral()
		if err != nil {
			return nil, &AllocationError{Requested: n, Err: err}
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}

	return ports, nil
}

// bindEphemeral asks the OS for a free loopback port
func bindEphemeral() (net.Listener, error) {
	var lastErr error
	for attempt := 0; attempt < MaxBindAttempts; attempt++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("bind failed after %d attempts: %w", MaxBindAttempts, lastErr)
}
