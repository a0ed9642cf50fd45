package worker

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy defines exponential backoff parameters. MaxRetries is the total
// number of attempts, the first one included.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy is used for remote table calls.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    5,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      8 * time.Second,
	BackoffFactor: 2,
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// JitteredDelay draws a full-jitter delay in [0, NextDelay(attempt)].
func (r RetryPolicy) JitteredDelay(attempt int) time.Duration {
	ceiling := r.NextDelay(attempt)
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func (r RetryPolicy) attempts() int {
	if r.MaxRetries <= 0 {
		return 1
	}
	return r.MaxRetries
}

// Do runs fn until it succeeds, returns an error retryable rejects, or the
// attempt budget is spent. The last error is returned.
func (r RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; attempt <= r.attempts(); attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil || !retryable(err) || attempt == r.attempts() {
			return err
		}

		timer := time.NewTimer(r.JitteredDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
