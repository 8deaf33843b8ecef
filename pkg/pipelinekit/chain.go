package pipelinekit

import (
	"context"
	"sort"
	"sync/atomic"
)

// DisableNextGuardWarnings silences every NextGuard abandoned-continuation
// diagnostic process-wide. Intended for tests that intentionally short-
// circuit a chain. Prefer the per-middleware SuppressGuardWarning option
// over this global switch where possible.
var DisableNextGuardWarnings atomic.Bool

// GuardWarningFunc is called when a middleware returns without ever
// invoking its Next continuation and without the command's context having
// been cancelled — almost always a bug (the rest of the chain silently
// never ran). The default implementation logs at Warn via LogWarn;
// override for tests or to route the diagnostic elsewhere.
var GuardWarningFunc = func(ctx context.Context, middlewareIndex int) {
	LogWarn(ctx, nil, "middleware returned without calling next", "middleware_index", middlewareIndex)
}

type guardState int32

const (
	guardPending guardState = iota
	guardExecuting
	guardCompleted
)

// nextGuard wraps a single Next[C, R] continuation and enforces that it is
// called at most once, and never re-entrantly from within its own call.
type nextGuard[C any, R any] struct {
	state atomic.Int32
	next  Next[C, R]
}

func newNextGuard[C, R any](next Next[C, R]) *nextGuard[C, R] {
	return &nextGuard[C, R]{next: next}
}

// call transitions Pending->Executing, invokes the wrapped continuation,
// then transitions to Completed. A second call (or a concurrent call while
// the first is in flight) is rejected with a typed Error instead of
// re-running the continuation.
func (g *nextGuard[C, R]) call(ctx context.Context, cmd C, cc *CommandContext) (R, error) {
	if !g.state.CompareAndSwap(int32(guardPending), int32(guardExecuting)) {
		var zero R
		switch guardState(g.state.Load()) {
		case guardExecuting:
			return zero, NewError(KindNextCurrentlyExecuting, "next is already executing", cc)
		default:
			return zero, NewError(KindNextAlreadyCalled, "next was already called", cc)
		}
	}
	defer g.state.Store(int32(guardCompleted))
	return g.next(ctx, cmd, cc)
}

// abandoned reports whether the continuation was never invoked and the
// context was not cancelled — the condition the diagnostic hook fires on.
func (g *nextGuard[C, R]) abandoned(ctx context.Context) bool {
	return guardState(g.state.Load()) == guardPending && ctx.Err() == nil
}

// registeredMiddleware pairs a Middleware with its registration index, so
// a stable sort can break priority ties by insertion order, and with a
// per-entry guard-warning suppression flag.
type registeredMiddleware[C any, R any] struct {
	mw               Middleware[C, R]
	index            int
	suppressWarning  bool
}

// Chain is a compiled, ready-to-run middleware chain terminated by a
// Handler. Build one with Compile; a Chain is immutable and safe to run
// concurrently from multiple goroutines, each Execute call gets its own
// nextGuard instances.
type Chain[C any, R any] struct {
	ordered []registeredMiddleware[C, R]
	handler Handler[C, R]
}

// Compile sorts mws by (Priority, registration index); Execute later folds
// them, right to left, around handler: the first middleware in priority
// order is the outermost call, the handler is the innermost.
func Compile[C, R any](handler Handler[C, R], mws ...registeredMiddleware[C, R]) *Chain[C, R] {
	ordered := make([]registeredMiddleware[C, R], len(mws))
	copy(ordered, mws)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].mw.Priority() != ordered[j].mw.Priority() {
			return ordered[i].mw.Priority() < ordered[j].mw.Priority()
		}
		return ordered[i].index < ordered[j].index
	})
	return &Chain[C, R]{ordered: ordered, handler: handler}
}

// Execute runs the compiled chain against cmd and cc. Each call builds a
// fresh nest of closures and guards; the Chain value itself holds no
// mutable per-call state.
func (ch *Chain[C, R]) Execute(ctx context.Context, cmd C, cc *CommandContext) (R, error) {
	var call Next[C, R] = func(ctx context.Context, cmd C, cc *CommandContext) (R, error) {
		return ch.handler.Handle(ctx, cmd)
	}

	for i := len(ch.ordered) - 1; i >= 0; i-- {
		entry := ch.ordered[i]
		downstream := call
		call = func(ctx context.Context, cmd C, cc *CommandContext) (R, error) {
			guard := newNextGuard(downstream)
			result, err := entry.mw.Execute(ctx, cmd, cc, guard.call)
			if guard.abandoned(ctx) && !entry.suppressWarning && !DisableNextGuardWarnings.Load() {
				GuardWarningFunc(ctx, entry.index)
			}
			return result, err
		}
	}

	return call(ctx, cmd, cc)
}
