// Package retry runs an operation under a bounded fixed-delay policy and
// reports how it ended.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// Delay is the fixed wait between calls.
	Delay time.Duration
}

// Outcome tags how a retried operation ended.
type Outcome int

const (
	// Succeeded means the operation returned without error.
	Succeeded Outcome = iota
	// Exhausted means every attempt failed with a retryable error.
	Exhausted
	// Failed means the operation returned a non-retryable error or the context ended.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the tagged result of Do.
type Result[T any] struct {
	Outcome  Outcome
	Value    T
	Attempts int
	// Err is the last error seen. It is nil only when Outcome is Succeeded.
	Err error
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// Do calls fn until it succeeds, returns an error not marked Retryable, the
// attempts run out or ctx is done.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) Result[T] {
	attempts := max(p.MaxAttempts, 1)
	delay := max(p.Delay, time.Nanosecond)
	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(delay))

	var res Result[T]
	var lastRetryable bool
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++
		v, err := fn(ctx)
		if err == nil {
			res.Value = v
			lastRetryable = false
			return nil
		}
		var r *retryableError
		if errors.As(err, &r) {
			lastRetryable = true
			res.Err = r.err
			return goretry.RetryableError(r.err)
		}
		lastRetryable = false
		res.Err = err
		return err
	})

	switch {
	case err == nil:
		res.Outcome = Succeeded
		res.Err = nil
	case lastRetryable && res.Attempts >= attempts:
		res.Outcome = Exhausted
	default:
		res.Outcome = Failed
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Err = ctxErr
		}
	}
	return res
}
