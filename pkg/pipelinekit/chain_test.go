package pipelinekit

import (
	"context"
	"errors"
	"testing"
)

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, cmd int) (int, error) { return cmd, nil }

func mwAt(prio ExecutionPriority, index int, fn func(ctx context.Context, cmd int, cc *CommandContext, next Next[int, int]) (int, error)) registeredMiddleware[int, int] {
	return registeredMiddleware[int, int]{
		mw:    MiddlewareFunc[int, int]{Prio: prio, Fn: fn},
		index: index,
	}
}

func TestCompile_OrdersByPriorityThenRegistrationIndex(t *testing.T) {
	var order []string

	record := func(name string) func(ctx context.Context, cmd int, cc *CommandContext, next Next[int, int]) (int, error) {
		return func(ctx context.Context, cmd int, cc *CommandContext, next Next[int, int]) (int, error) {
			order = append(order, name)
			return next(ctx, cmd, cc)
		}
	}

	// Registered out of priority order and with two ties at the same
	// priority, to exercise both the priority sort and the stable
	// registration-index tiebreak.
	chain := Compile[int, int](echoHandler{},
		mwAt(PriorityProcessing, 0, record("processing")),
		mwAt(PriorityAuthentication, 1, record("auth-1")),
		mwAt(PriorityAuthentication, 2, record("auth-2")),
	)

	cc := NewCommandContext(CommandMetadata{})
	result, err := chain.Execute(context.Background(), 7, cc)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != 7 {
		t.Errorf("Execute() = %d, want 7", result)
	}

	want := []string{"auth-1", "auth-2", "processing"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q (full order %v)", i, order[i], name, order)
		}
	}
}

func TestChainExecute_MiddlewareCanShortCircuit(t *testing.T) {
	handlerCalled := false
	handler := HandlerFunc[int, int](func(ctx context.Context, cmd int) (int, error) {
		handlerCalled = true
		return cmd, nil
	})

	sentinel := errors.New("rejected")
	chain := Compile[int, int](handler,
		mwAt(PriorityAuthorization, 0, func(ctx context.Context, cmd int, cc *CommandContext, next Next[int, int]) (int, error) {
			return 0, sentinel
		}),
	)

	cc := NewCommandContext(CommandMetadata{})
	_, err := chain.Execute(context.Background(), 1, cc)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Execute() error = %v, want %v", err, sentinel)
	}
	if handlerCalled {
		t.Error("handler was called despite middleware short-circuiting")
	}
}

func TestNextGuard_SecondCallIsRejected(t *testing.T) {
	guard := newNextGuard[int, int](func(ctx context.Context, cmd int, cc *CommandContext) (int, error) {
		return cmd, nil
	})
	cc := NewCommandContext(CommandMetadata{})
	ctx := context.Background()

	if _, err := guard.call(ctx, 1, cc); err != nil {
		t.Fatalf("first call() error = %v, want nil", err)
	}

	_, err := guard.call(ctx, 1, cc)
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind() != KindNextAlreadyCalled {
		t.Fatalf("second call() error = %v, want a KindNextAlreadyCalled *Error", err)
	}
}

func TestNextGuard_ReentrantCallIsRejected(t *testing.T) {
	var guard *nextGuard[int, int]
	var reentrantErr error

	guard = newNextGuard[int, int](func(ctx context.Context, cmd int, cc *CommandContext) (int, error) {
		_, reentrantErr = guard.call(ctx, cmd, cc)
		return cmd, nil
	})

	cc := NewCommandContext(CommandMetadata{})
	if _, err := guard.call(context.Background(), 1, cc); err != nil {
		t.Fatalf("call() error = %v, want nil", err)
	}

	var pe *Error
	if !errors.As(reentrantErr, &pe) || pe.Kind() != KindNextCurrentlyExecuting {
		t.Fatalf("reentrant call() error = %v, want a KindNextCurrentlyExecuting *Error", reentrantErr)
	}
}

func TestNextGuard_AbandonedWhenNeverCalled(t *testing.T) {
	guard := newNextGuard[int, int](func(ctx context.Context, cmd int, cc *CommandContext) (int, error) {
		return cmd, nil
	})
	if !guard.abandoned(context.Background()) {
		t.Error("abandoned() = false before call(), want true")
	}
}

func TestNextGuard_NotAbandonedAfterCall(t *testing.T) {
	guard := newNextGuard[int, int](func(ctx context.Context, cmd int, cc *CommandContext) (int, error) {
		return cmd, nil
	})
	cc := NewCommandContext(CommandMetadata{})
	if _, err := guard.call(context.Background(), 1, cc); err != nil {
		t.Fatalf("call() error = %v", err)
	}
	if guard.abandoned(context.Background()) {
		t.Error("abandoned() = true after a completed call(), want false")
	}
}

func TestNextGuard_NotAbandonedWhenContextCancelled(t *testing.T) {
	guard := newNextGuard[int, int](func(ctx context.Context, cmd int, cc *CommandContext) (int, error) {
		return cmd, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if guard.abandoned(ctx) {
		t.Error("abandoned() = true for a cancelled context that never called next, want false")
	}
}

func TestChainExecute_AbandonedContinuationFiresGuardWarning(t *testing.T) {
	original := GuardWarningFunc
	defer func() { GuardWarningFunc = original }()

	var firedFor []int
	GuardWarningFunc = func(ctx context.Context, middlewareIndex int) {
		firedFor = append(firedFor, middlewareIndex)
	}

	chain := Compile[int, int](echoHandler{},
		mwAt(PriorityAuthorization, 0, func(ctx context.Context, cmd int, cc *CommandContext, next Next[int, int]) (int, error) {
			return cmd, nil // never calls next
		}),
	)

	cc := NewCommandContext(CommandMetadata{})
	if _, err := chain.Execute(context.Background(), 1, cc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(firedFor) != 1 || firedFor[0] != 0 {
		t.Errorf("GuardWarningFunc calls = %v, want exactly one call for middleware index 0", firedFor)
	}
}

func TestChainExecute_SuppressedMiddlewareDoesNotFireGuardWarning(t *testing.T) {
	original := GuardWarningFunc
	defer func() { GuardWarningFunc = original }()

	fired := false
	GuardWarningFunc = func(ctx context.Context, middlewareIndex int) { fired = true }

	entry := mwAt(PriorityAuthorization, 0, func(ctx context.Context, cmd int, cc *CommandContext, next Next[int, int]) (int, error) {
		return cmd, nil
	})
	entry.suppressWarning = true

	chain := Compile[int, int](echoHandler{}, entry)
	cc := NewCommandContext(CommandMetadata{})
	if _, err := chain.Execute(context.Background(), 1, cc); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fired {
		t.Error("GuardWarningFunc fired for a middleware with suppressWarning set")
	}
}
