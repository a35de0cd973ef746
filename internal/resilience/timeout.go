// Package resilience holds the failure policies applied to outbound model and
// search calls: an explicit per-call timeout, transient-error classification
// and a circuit breaker per upstream. There is no retry here; callers that
// want another attempt must make it themselves.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// ErrTimeout is returned when a call exceeds its configured deadline.
var ErrTimeout = errors.New("call timed out")

// Timeout is a per-call deadline policy. The zero value applies no deadline.
type Timeout struct {
	Name     string
	Duration time.Duration
}

// NewTimeout builds a policy from a seconds value as found in config.
func NewTimeout(name string, secs int) Timeout {
	return Timeout{Name: name, Duration: time.Duration(secs) * time.Second}
}

// Do runs fn under the deadline. A deadline hit is reported as ErrTimeout;
// cancellation of the parent context is passed through unchanged.
func (t Timeout) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, t Timeout, fn func(ctx context.Context) (T, error)) (T, error) {
	if t.Duration <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.Duration)
	defer cancel()

	val, err := fn(callCtx)
	if err == nil {
		return val, nil
	}
	// Only our own deadline becomes ErrTimeout.
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, eris.Wrapf(ErrTimeout, "%s: exceeded %s", t.Name, t.Duration)
	}
	return val, err
}
