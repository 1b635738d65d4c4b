package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop over an eventually-consistent read.
type Policy struct {
	// Attempts is the maximum number of checks. Values below one mean one.
	Attempts int
	// Interval is the fixed delay before every check, including the first.
	Interval time.Duration
}

// Result reports how a loop ended.
type Result struct {
	Attempts  int
	Satisfied bool
}

// Check is invoked once per attempt with the 1-based attempt number.
// Returning true stops the loop early.
type Check func(ctx context.Context, attempt int) bool

var errNotYet = errors.New("condition not met")

// Until waits one Interval, then runs check up to Attempts times on a
// constant backoff until it returns true. Cancelling ctx ends the loop with
// ctx.Err().
func Until(ctx context.Context, p Policy, check Check) (Result, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	every := interval(p.Interval)

	var res Result
	if err := Wait(ctx, every); err != nil {
		return res, err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(every), uint64(attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		res.Attempts++
		if check(ctx, res.Attempts) {
			res.Satisfied = true
			return nil
		}
		return errNotYet
	}, b)

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, errNotYet):
		return res, nil
	default:
		return res, err
	}
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func interval(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
