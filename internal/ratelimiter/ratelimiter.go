// Package ratelimiter bounds the rate of incoming transfer requests.
//
// A token bucket guards the data-plane routes: sustained load is capped
// at the configured requests per second while short bursts may go over,
// up to the bucket's capacity. Individual transfers are unaffected once
// admitted; the limiter only gates admission.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket over golang.org/x/time/rate.
//
// Thread Safety: safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a rate limiter allowing requestsPerSecond sustained and
// burst immediate admissions.
//
// A requestsPerSecond of 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether one more request may be admitted right now,
// consuming a token when it may. Requests over the limit should be
// rejected, not queued: a transfer client is better served by an
// immediate 429 than by a stalled connection.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done. Used by
// internal workers that prefer throttling over rejection.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
