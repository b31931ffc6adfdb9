package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/kaspastack/kaspastack/pkg/logging"
)

// RetryPolicy controls automatic retry of transient infrastructure
// failures with capped exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int

	// InitialDelay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter adds +/- this fraction of random variation to each delay
	// to avoid thundering-herd retries.
	Jitter float64
}

// DefaultRetryPolicy returns the policy used by the deployment pipeline:
// at most 2 retries after the initial attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// RetryTransient runs fn, retrying on transient infrastructure errors
// per the policy. Non-transient errors and context cancellation return
// immediately. The returned error is the last attempt's error.
func RetryTransient(ctx context.Context, logger *logging.Logger, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		logger.Warn("transient failure, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay.String(),
			"error", lastErr)

		if !sleepWithContext(ctx, applyJitter(delay, policy.Jitter)) {
			return lastErr
		}
		delay = nextInterval(delay, policy.MaxDelay, policy.Multiplier)
	}

	return lastErr
}

// applyJitter adds +/- jitter fraction of random variation to interval.
func applyJitter(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	delta := float64(interval) * jitter
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(interval) + offset)
	if result < 0 {
		return 0
	}
	return result
}

// nextInterval multiplies current by multiplier, capped at max.
func nextInterval(current, max time.Duration, multiplier float64) time.Duration {
	if multiplier <= 1 {
		return current
	}
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}

// sleepWithContext sleeps for duration or until the context is done.
// Returns false if the context ended first.
func sleepWithContext(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return true
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
