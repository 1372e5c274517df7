// Package retry runs an operation under a bounded exponential backoff policy
// and reports how it ended: succeeded, or exhausted and eligible for a fallback.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 8 * time.Second
)

// State is a node of the retry state machine.
type State int

const (
	Attempting State = iota
	Succeeded
	Exhausted
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Sleep     SleepFunc
}

// DefaultPolicy returns three attempts waiting 2s, 4s, 8s at most.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Delay returns the wait after the n-th failed attempt (1-based).
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do stops at the attempt that
// returned it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Outcome records where the machine stopped.
type Outcome[T any] struct {
	State    State
	Value    T
	Attempts int
	Err      error
}

// Observer is notified after each failed attempt (State == Attempting) and
// once more with the terminal outcome.
type Observer func(state State, attempt int, err error)

// Do runs op until it succeeds or the policy is exhausted. Cancellation of ctx
// ends the machine in Exhausted with ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), observe Observer) Outcome[T] {
	p = p.normalized()
	if observe == nil {
		observe = func(State, int, error) {}
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return exhausted[T](attempt-1, err, observe)
		}

		value, err := op(ctx, attempt)
		if err == nil {
			observe(Succeeded, attempt, nil)
			return Outcome[T]{State: Succeeded, Value: value, Attempts: attempt}
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return exhausted[T](attempt, perm.err, observe)
		}
		lastErr = err
		observe(Attempting, attempt, err)

		if attempt == p.Attempts {
			break
		}
		if err := p.Sleep(ctx, p.Delay(attempt)); err != nil {
			return exhausted[T](attempt, err, observe)
		}
	}

	return exhausted[T](p.Attempts, lastErr, observe)
}

func exhausted[T any](attempts int, err error, observe Observer) Outcome[T] {
	if err == nil {
		err = errors.New("retry: no attempts made")
	}
	observe(Exhausted, attempts, err)
	return Outcome[T]{State: Exhausted, Attempts: attempts, Err: err}
}

// WithFallback resolves an exhausted outcome to fallback(). The boolean reports
// whether the fallback was used.
func WithFallback[T any](o Outcome[T], fallback func() T) (T, bool) {
	if o.State == Succeeded {
		return o.Value, false
	}
	return fallback(), true
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
