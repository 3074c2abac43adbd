package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles calls to the remote account API per account, shared by
// every worker that probes capacity
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter
// requestsPerMinute: sustained requests allowed per minute per account
// burst: max requests in a burst
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	r := rate.Limit(float64(requestsPerMinute) / time.Minute.Seconds())
	if requestsPerMinute <= 0 {
		r = rate.Inf
	}

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific account
func (l *Limiter) GetLimiter(account string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[account]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[account] = limiter
	}

	return limiter
}

// Wait blocks until a request is allowed for the account or ctx is done
func (l *Limiter) Wait(ctx context.Context, account string) error {
	return l.GetLimiter(account).Wait(ctx)
}

// Allow checks if a request is allowed for the account without blocking
func (l *Limiter) Allow(account string) bool {
	return l.GetLimiter(account).Allow()
}

// Tokens returns the current number of available tokens for an account
func (l *Limiter) Tokens(account string) float64 {
	return l.GetLimiter(account).Tokens()
}
