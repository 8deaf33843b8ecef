package pipelinekit

import (
	"context"
	"time"
)

// Admitter gates entry into a pipeline before its chain runs — the
// integration point for back-pressure (see pkg/middleware/ctrl's
// BackPressureSemaphore). Acquire blocks (or fails fast, depending on the
// admitter's configured strategy) until the command may proceed, and
// returns a release func to call unconditionally once the command
// finishes.
type Admitter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Retrier retries fn according to its own policy (see
// pkg/middleware/ctrl's RetryPolicy) — the integration point for PipelineOptions'
// RetryPolicy.
type Retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// PipelineOptions configures cross-cutting behavior applied by the
// executor around a compiled Chain, independent of any one middleware.
type PipelineOptions struct {
	// Timeout, if non-zero, bounds a single Run call; the command's
	// context is derived with context.WithTimeout.
	Timeout time.Duration

	// Semaphore gates admission before the chain runs. Nil means
	// unlimited concurrency.
	Semaphore Admitter

	// RetryPolicy, if non-nil, wraps the whole chain execution (not an
	// individual middleware) in a retry loop.
	RetryPolicy Retrier
}

// useEntry holds one registered middleware plus its per-registration
// options, pending compilation into a Chain.
type useEntry[C any, R any] struct {
	mw              Middleware[C, R]
	suppressWarning bool
}

// PipelineBuilder accumulates middleware and options before producing an
// immutable Pipeline via Build.
type PipelineBuilder[C any, R any] struct {
	handler Handler[C, R]
	entries []useEntry[C, R]
	opts    PipelineOptions
}

// NewPipelineBuilder starts a builder terminated by handler.
func NewPipelineBuilder[C, R any](handler Handler[C, R]) *PipelineBuilder[C, R] {
	return &PipelineBuilder[C, R]{handler: handler}
}

// Use registers mw. Middleware execute in priority order regardless of
// registration order; ties break by registration order.
func (b *PipelineBuilder[C, R]) Use(mw Middleware[C, R]) *PipelineBuilder[C, R] {
	b.entries = append(b.entries, useEntry[C, R]{mw: mw})
	return b
}

// UseFunc registers a function-backed middleware at the given priority.
func (b *PipelineBuilder[C, R]) UseFunc(prio ExecutionPriority, fn func(ctx context.Context, cmd C, cc *CommandContext, next Next[C, R]) (R, error)) *PipelineBuilder[C, R] {
	return b.Use(MiddlewareFunc[C, R]{Fn: fn, Prio: prio})
}

// SuppressGuardWarning marks the most recently registered middleware as
// exempt from NextGuard's abandoned-continuation diagnostic — for
// middleware that legitimately short-circuits without calling next (e.g. a
// cache hit, an authorization rejection).
func (b *PipelineBuilder[C, R]) SuppressGuardWarning() *PipelineBuilder[C, R] {
	if n := len(b.entries); n > 0 {
		b.entries[n-1].suppressWarning = true
	}
	return b
}

// WithTimeout sets PipelineOptions.Timeout.
func (b *PipelineBuilder[C, R]) WithTimeout(d time.Duration) *PipelineBuilder[C, R] {
	b.opts.Timeout = d
	return b
}

// WithSemaphore sets PipelineOptions.Semaphore.
func (b *PipelineBuilder[C, R]) WithSemaphore(a Admitter) *PipelineBuilder[C, R] {
	b.opts.Semaphore = a
	return b
}

// WithRetryPolicy sets PipelineOptions.RetryPolicy.
func (b *PipelineBuilder[C, R]) WithRetryPolicy(r Retrier) *PipelineBuilder[C, R] {
	b.opts.RetryPolicy = r
	return b
}

// Build compiles the registered middleware into a Chain and freezes the
// options into a ready-to-run Pipeline.
func (b *PipelineBuilder[C, R]) Build() *Pipeline[C, R] {
	regs := make([]registeredMiddleware[C, R], len(b.entries))
	for i, e := range b.entries {
		regs[i] = registeredMiddleware[C, R]{mw: e.mw, index: i, suppressWarning: e.suppressWarning}
	}
	return &Pipeline[C, R]{
		chain: Compile(b.handler, regs...),
		opts:  b.opts,
	}
}

// Pipeline is an immutable, compiled, ready-to-run command pipeline for a
// single (C, R) type pair. Safe for concurrent use.
type Pipeline[C any, R any] struct {
	chain *Chain[C, R]
	opts  PipelineOptions
}

// Run admits, executes, and (if configured) retries cmd through the
// pipeline's chain. cc carries per-command state; callers typically
// produce it once per Run via NewCommandContext.
func (p *Pipeline[C, R]) Run(ctx context.Context, cmd C, cc *CommandContext) (R, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	if p.opts.Semaphore != nil {
		release, err := p.opts.Semaphore.Acquire(ctx)
		if err != nil {
			var zero R
			return zero, err
		}
		defer release()
	}

	run := func(ctx context.Context) (R, error) {
		result, err := p.chain.Execute(ctx, cmd, cc)
		if err == nil {
			if deadlineErr := ctxDeadlineError(ctx, cc); deadlineErr != nil {
				return result, deadlineErr
			}
		}
		return result, err
	}

	if p.opts.RetryPolicy == nil {
		return run(ctx)
	}

	var result R
	err := p.opts.RetryPolicy.Do(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = run(ctx)
		return runErr
	})
	return result, err
}

// ctxDeadlineError maps ctx's terminal state to a pipelinekit.Error once a
// handler returns, so a pure CPU-bound handler that never checks ctx.Err()
// itself still surfaces KindTimeout/KindCancelled rather than silently
// running to completion past its configured deadline.
func ctxDeadlineError(ctx context.Context, cc *CommandContext) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return NewError(KindTimeout, "pipeline run exceeded its configured timeout", cc)
	case context.Canceled:
		return NewError(KindCancelled, "pipeline run was cancelled", cc)
	default:
		return nil
	}
}

// ErasedPipeline lets a PipelineRegistry hold and hand back pipelines of
// differing (C, R) type pairs behind one interface, dispatching by
// reflect.Type at the registry boundary (see registry.go). The caller is
// responsible for type-asserting cmd to C and the result back to its
// expected R.
type ErasedPipeline interface {
	RunErased(ctx context.Context, cmd any, cc *CommandContext) (any, error)
}

// RunErased implements ErasedPipeline.
func (p *Pipeline[C, R]) RunErased(ctx context.Context, cmd any, cc *CommandContext) (any, error) {
	typed, ok := cmd.(C)
	if !ok {
		var zero R
		_ = zero
		return nil, NewError(KindValidation, "command value does not match pipeline's registered type", cc)
	}
	return p.Run(ctx, typed, cc)
}
