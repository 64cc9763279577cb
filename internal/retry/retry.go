// Package retry runs network-facing operations with bounded exponential
// backoff. Only failures classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// Policy bounds a retried operation. Waits follow gax.Backoff: each one is
// drawn uniformly from (0, cur], with cur growing by Multiplier up to
// MaxBackoff. Zero values take the gax defaults.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// Retryable overrides IsTransient when set.
	Retryable func(error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the policy used for uploads and record writes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls op until it succeeds, fails permanently, the attempts run out or
// ctx is done. Permanent errors are returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	backoff := p.backoff()
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}
			return ctxErr
		}

		err = op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		d := backoff.Pause()
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, d)
		}
		if sleepErr := gax.Sleep(ctx, d); sleepErr != nil {
			return fmt.Errorf("%w (last error: %v)", sleepErr, err)
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Err: err}
}

func (p Policy) backoff() *gax.Backoff {
	return &gax.Backoff{
		Initial:    p.InitialBackoff,
		Max:        p.MaxBackoff,
		Multiplier: p.Multiplier,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of its type.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
