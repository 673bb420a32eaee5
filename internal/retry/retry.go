package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures one call site. Attempts below 1 are treated as 1.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Default is the policy used for price fetches.
var Default = Policy{Attempts: 3, Delay: time.Second}

// Once performs a single attempt.
var Once = Policy{Attempts: 1}

// Op is a fallible operation re-executed by Do.
type Op func(ctx context.Context) error

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent marks err as terminal so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in the chain declares itself terminal.
func IsPermanent(err error) bool {
	for err != nil {
		if p, ok := err.(interface{ Permanent() bool }); ok && p.Permanent() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Do runs op until it succeeds, returns a terminal error, the context ends,
// or the policy's attempts are used up. The delay between attempts is flat.
func Do(ctx context.Context, policy Policy, op Op) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}
		if policy.Delay > 0 {
			timer := time.NewTimer(policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &ExhaustedError{Attempts: attempt, Err: last}
			case <-timer.C:
			}
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: last}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
