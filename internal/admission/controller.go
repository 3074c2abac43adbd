package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shehryarbajwa/gridrunner/internal/metrics"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// CapacityProbe reports the remote account's current session usage
type CapacityProbe interface {
	Capacity(ctx context.Context) (models.AccountCapacity, error)
}

// ProbeFunc adapts a function to CapacityProbe
type ProbeFunc func(ctx context.Context) (models.AccountCapacity, error)

func (f ProbeFunc) Capacity(ctx context.Context) (models.AccountCapacity, error) {
	return f(ctx)
}

// Policy is the retry schedule used while waiting for a slot
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	// Jitter is the backoff randomization factor, 0 disables it
	Jitter float64
}

// DefaultPolicy probes up to 10 times, backing off from 0.5s up to 15s
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		MaxAttempts:     10,
	}
}

// NoRemoteSessionsAvailableError is returned when every probe reported the
// account at capacity. It only fails the worker that was waiting.
type NoRemoteSessionsAvailableError struct {
	Attempts int
	Last     models.AccountCapacity
	Err      error
}

func (e *NoRemoteSessionsAvailableError) Error() string {
	return fmt.Sprintf("no remote sessions available after %d attempts (running %d of %d): %v",
		e.Attempts, e.Last.SessionsRunning, e.Last.SessionsAllowed, e.Err)
}

func (e *NoRemoteSessionsAvailableError) Unwrap() error {
	return e.Err
}

// IsNoRemoteSessionsAvailable checks if the error is or wraps a NoRemoteSessionsAvailableError
func IsNoRemoteSessionsAvailable(err error) bool {
	var target *NoRemoteSessionsAvailableError
	return err != nil && errors.As(err, &target)
}

var errAtCapacity = errors.New("remote account at session capacity")

// Controller gates worker start until the remote account has a free slot.
// Checks from different workers are not coordinated with each other; the
// remote probe is the only authority.
type Controller struct {
	probe    CapacityProbe
	policy   Policy
	newTimer func() backoff.Timer
	log      *slog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithTimer replaces the timer used between attempts
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Controller) { c.newTimer = newTimer }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// NewController creates an admission controller
func NewController(probe CapacityProbe, policy Policy, opts ...Option) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Controller{
		probe:  probe,
		policy: policy,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "admission")
	return c
}

// WaitForSlot blocks until the probe reports a free session, the attempts
// are exhausted, or ctx is cancelled
func (c *Controller) WaitForSlot(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RecordAdmissionWait(time.Since(start))
	}()

	attempts := 0
	var last models.AccountCapacity

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		capacity, err := c.probe.Capacity(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			metrics.RecordAdmissionAttempt(false)
			return fmt.Errorf("capacity probe failed: %w", err)
		}
		last = capacity

		if !capacity.HasFreeSlot() {
			metrics.RecordAdmissionAttempt(false)
			return errAtCapacity
		}
		metrics.RecordAdmissionAttempt(true)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Debug("No remote session available, backing off",
			"attempt", attempts, "wait", wait, "running", last.SessionsRunning, "allowed", last.SessionsAllowed, "err", err)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, c.backOff(ctx), notify, timer)
	if err == nil {
		c.log.Debug("Remote session slot available", "attempts", attempts)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("admission interrupted: %w", err)
	}

	return &NoRemoteSessionsAvailableError{Attempts: attempts, Last: last, Err: err}
}

func (c *Controller) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.InitialInterval
	b.MaxInterval = c.policy.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = c.policy.Jitter
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.policy.MaxAttempts-1)), ctx)
}
