// Package ctrl provides pipelinekit middleware for the cross-cutting
// concerns that guard and throttle command execution: admission
// back-pressure, batching, rate limiting, circuit breaking, retries, and a
// bounded object pool.
package ctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pipelinekit/pipelinekit"
)

// BackoffKind selects how the delay between retry attempts grows.
type BackoffKind int

const (
	BackoffConstant BackoffKind = iota
	BackoffLinear
	BackoffExponential
)

// RetryPolicy retries an operation up to MaxAttempts times with a delay
// computed from Kind/BaseDelay/MaxDelay. It implements
// pipelinekit.Retrier, so it can be installed as a Pipeline's
// PipelineOptions.RetryPolicy, or used standalone inside a middleware.
//
// Grounded on the teacher's core.Retry (exponential-only, hardcoded 100ms
// base) and the deprecated ctrl.Retry duplicate of it, generalized to the
// three named backoff kinds and a cancellation-aware sleep.
type RetryPolicy struct {
	MaxAttempts int
	Kind        BackoffKind
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy builds a RetryPolicy with the given attempt count and
// exponential backoff starting at baseDelay, matching the teacher's
// default shape (100ms, doubling).
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		Kind:        BackoffExponential,
		BaseDelay:   baseDelay,
		MaxDelay:    30 * time.Second,
	}
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	var d time.Duration
	switch p.Kind {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt+1)
	case BackoffExponential:
		d = p.BaseDelay * time.Duration(int64(1)<<uint(attempt))
	default:
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping between attempts according
// to the configured backoff. The sleep is cancellation-aware: a context
// cancellation during the backoff wait aborts immediately with ctx.Err()
// instead of completing the full sleep.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("ctrl: MaxAttempts must be positive, got %d", p.MaxAttempts)
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return pipelinekit.WrapError(pipelinekit.KindCancelled, err, "retry aborted by context", nil)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var pipelineErr *pipelinekit.Error
		if errors.As(lastErr, &pipelineErr) && pipelineErr.Kind() == pipelinekit.KindValidation {
			return lastErr // validation failures are not transient, don't retry
		}

		if attempt < p.MaxAttempts-1 {
			timer := time.NewTimer(p.delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return pipelinekit.WrapError(pipelinekit.KindCancelled, ctx.Err(), "retry aborted during backoff", nil)
			}
		}
	}

	return pipelinekit.WrapError(pipelinekit.KindInternal, lastErr, fmt.Sprintf("retry exhausted after %d attempts", p.MaxAttempts), nil)
}
