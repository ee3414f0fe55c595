// Package ratelimit provides the token-bucket budget that bounds how often
// background refresh-ahead recomputations may run. It is backed by
// golang.org/x/time/rate.
package ratelimit

import "golang.org/x/time/rate"

// Limiter decides whether one more background refresh may start now. A nil
// *Limiter is an unlimited budget.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps refreshes per second with the
// given burst. A non-positive rps yields nil, i.e. no limit.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a refresh may start. It never blocks.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.lim.Allow()
}
