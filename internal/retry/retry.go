// Package retry is the single retry-with-backoff policy shared by remote
// reads (balance fetch, pro-status fetch, affordability checks).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy describes how many times to try and how long to wait in between.
//
// The delay after attempt i (0-based) is Base * Factor^i. No delay follows
// the final attempt.
type Policy struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	Sleeper  Sleeper
}

// Default is 3 attempts in total with 1s then 2s between them. The 4s step
// of the doubling series is never reached, so a fully failed read waits 3s.
var Default = Policy{
	Attempts: 3,
	Base:     time.Second,
	Factor:   2,
}

// Delay returns the wait after the given 0-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	return time.Duration(d)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is cancelled. It returns the number of attempts made.
//
// fn receives the 0-based attempt index.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			return i, &ExhaustedError{Attempts: i, Last: last}
		}

		last = fn(ctx, i)
		if last == nil {
			return i + 1, nil
		}
		if IsPermanent(last) {
			return i + 1, last
		}
		if i == attempts-1 {
			break
		}

		if err := sleeper.Sleep(ctx, p.Delay(i)); err != nil {
			return i + 1, &ExhaustedError{Attempts: i + 1, Last: last}
		}
	}
	return attempts, &ExhaustedError{Attempts: attempts, Last: last}
}
