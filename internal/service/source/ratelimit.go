package source

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter bounds total outbound requests to the external source across
// all concurrent workers. It is injected into every client rather than
// held as package state so tests can swap it out.
type Limiter struct {
	limiter        *rate.Limiter
	acquireTimeout time.Duration
}

// NewLimiter creates a shared token-bucket limiter. requestsPerSecond
// is the sustained rate; burst is the bucket depth. A worker that
// cannot acquire a token within acquireTimeout gets a transient error.
func NewLimiter(requestsPerSecond float64, burst int, acquireTimeout time.Duration) *Limiter {
	return &Limiter{
		limiter:        rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		acquireTimeout: acquireTimeout,
	}
}

// Acquire blocks until a token is available, the caller's context is
// cancelled, or the acquire timeout elapses. A timeout is reported as a
// transient rate-limit failure so the caller's retry budget applies.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()

	if err := l.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			// Caller cancelled; surface that, not a rate-limit error
			return ctx.Err()
		}
		return NewTransient(CodeRateLimited, "timed out waiting for rate limit token", err)
	}

	return nil
}
