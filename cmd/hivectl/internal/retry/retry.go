// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retry provides bounded retry with exponential backoff.
//
// Every external interaction in the bootstrap (probe checks, destructive
// SQL actions, schema tool invocation) is wrapped by a Policy with an
// operation-specific budget. Network flakiness and slow cold starts are
// expected, not exceptional.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// =============================================================================
// Policy
// =============================================================================

// Policy configures bounded backoff behavior.
//
// # Description
//
// A Policy with Multiplier 1.0 is a fixed-interval retry; a Multiplier
// above 1.0 grows the interval exponentially up to Ceiling. Jitter adds
// randomness to avoid synchronized probing of a struggling service.
//
// # Example
//
//	p := retry.Policy{MaxAttempts: 30, Interval: 5 * time.Second, Multiplier: 1.0}
//	err := p.Do(ctx, "metastore-db tcp probe", func(ctx context.Context) error {
//	    return probeOnce(ctx)
//	})
type Policy struct {
	// MaxAttempts is the total number of attempts (>= 1).
	MaxAttempts int

	// Interval is the delay before the second attempt.
	Interval time.Duration

	// Multiplier grows the interval after each attempt (1.0 = fixed).
	Multiplier float64

	// Ceiling caps the interval growth. Zero means no cap.
	Ceiling time.Duration

	// Jitter in [0,1] randomizes each sleep within
	// [interval*(1-Jitter), interval*(1+Jitter)]. Zero disables it.
	Jitter float64
}

// Fixed returns a fixed-interval policy.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval, Multiplier: 1.0}
}

// Exponential returns an exponential policy doubling up to ceiling,
// with a small default jitter.
func Exponential(attempts int, initial, ceiling time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Interval:    initial,
		Multiplier:  2.0,
		Ceiling:     ceiling,
		Jitter:      0.1,
	}
}

// =============================================================================
// Exhaustion Error
// =============================================================================

// ExhaustedError reports that all attempts were consumed without
// success. It is distinct from the last attempt's error so callers can
// tell "never became ready" from "became ready but failed functionally";
// the last error remains reachable via Unwrap.
type ExhaustedError struct {
	// Op names the operation that was retried.
	Op string

	// Attempts is the number of attempts made.
	Attempts int

	// Elapsed is the wall-clock time spent across all attempts.
	Elapsed time.Duration

	// Last is the error from the final attempt.
	Last error
}

// Error formats the exhaustion with the final cause.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts (%s): %v", e.Op, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// =============================================================================
// Execution
// =============================================================================

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
//
// # Description
//
// Between attempts the caller is suspended with a context-aware sleep
// (never a busy-wait). On exhaustion Do returns *ExhaustedError; on
// context cancellation it returns ctx.Err() wrapped, so a run-level
// deadline is distinguishable from a consumed retry budget.
//
// # Inputs
//
//   - ctx: Context for cancellation; checked before every attempt.
//   - op: Operation name used in errors and logs.
//   - fn: The attempt. A nil return stops retrying.
//
// # Outputs
//
//   - error: nil on success, *ExhaustedError on budget exhaustion,
//     or a wrapped ctx.Err() when the context ends first.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	interval := p.Interval
	var last error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}

		if attempt == attempts {
			break
		}
		if !sleepWithContext(ctx, applyJitter(interval, p.Jitter)) {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		interval = nextInterval(interval, p.Multiplier, p.Ceiling)
	}

	return &ExhaustedError{
		Op:       op,
		Attempts: attempts,
		Elapsed:  time.Since(start),
		Last:     last,
	}
}

// nextInterval grows the interval by multiplier, capped at ceiling.
func nextInterval(current time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	if multiplier <= 1.0 {
		return current
	}
	next := time.Duration(float64(current) * multiplier)
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

// applyJitter randomizes the interval within [d*(1-j), d*(1+j)].
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

// sleepWithContext sleeps for d unless ctx ends first. Returns false if
// the context ended.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
