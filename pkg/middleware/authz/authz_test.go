package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/pipelinekit/pipelinekit"
)

type addCmd struct{ A, B int }

func TestMiddleware_AllowsWhenCheckPasses(t *testing.T) {
	mw := New[addCmd, int](func(context.Context, addCmd, *pipelinekit.CommandContext) error { return nil })

	next := func(ctx context.Context, cmd addCmd, cc *pipelinekit.CommandContext) (int, error) {
		return cmd.A + cmd.B, nil
	}
	result, err := mw.Execute(context.Background(), addCmd{A: 2, B: 3}, pipelinekit.NewCommandContext(pipelinekit.CommandMetadata{}), next)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != 5 {
		t.Errorf("Execute() result = %d, want 5", result)
	}
}

func TestMiddleware_RejectsWithKindAuthorization(t *testing.T) {
	mw := New[addCmd, int](func(context.Context, addCmd, *pipelinekit.CommandContext) error {
		return errors.New("not allowed")
	})

	next := func(ctx context.Context, cmd addCmd, cc *pipelinekit.CommandContext) (int, error) {
		t.Fatal("next should not be called when authorization fails")
		return 0, nil
	}
	_, err := mw.Execute(context.Background(), addCmd{}, pipelinekit.NewCommandContext(pipelinekit.CommandMetadata{}), next)
	var pe *pipelinekit.Error
	if !errors.As(err, &pe) || pe.Kind() != pipelinekit.KindAuthorization {
		t.Fatalf("Execute() error = %v, want a KindAuthorization *pipelinekit.Error", err)
	}
}

func TestMiddleware_Priority(t *testing.T) {
	mw := New[addCmd, int](nil)
	if mw.Priority() != pipelinekit.PriorityAuthorization {
		t.Errorf("Priority() = %v, want %v", mw.Priority(), pipelinekit.PriorityAuthorization)
	}
}
