package ctrl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipelinekit/pipelinekit"
)

func TestRetryPolicy_SucceedsEventually(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Fatal("Do() want error after exhausting attempts, got nil")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryPolicy_DoesNotRetryValidationErrors(t *testing.T) {
	p := NewRetryPolicy(5, time.Millisecond)

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return pipelinekit.NewError(pipelinekit.KindValidation, "bad input", nil)
	})

	if err == nil {
		t.Fatal("Do() want error, got nil")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (validation errors must not retry)", attempts)
	}
}

func TestRetryPolicy_AbortsOnContextCancelDuringBackoff(t *testing.T) {
	p := NewRetryPolicy(5, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("fails")
	})

	if err == nil {
		t.Fatal("Do() want error after context cancellation, got nil")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (should abort during first backoff wait)", attempts)
	}
}

func TestRetryPolicy_DelayGrowth(t *testing.T) {
	tests := []struct {
		name string
		kind BackoffKind
	}{
		{"constant", BackoffConstant},
		{"linear", BackoffLinear},
		{"exponential", BackoffExponential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &RetryPolicy{MaxAttempts: 4, Kind: tt.kind, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
			d0 := p.delay(0)
			d1 := p.delay(1)

			switch tt.kind {
			case BackoffConstant:
				if d0 != d1 {
					t.Errorf("delay(0)=%v delay(1)=%v, want equal for constant backoff", d0, d1)
				}
			default:
				if d1 <= d0 {
					t.Errorf("delay(1)=%v want > delay(0)=%v for %s backoff", d1, d0, tt.name)
				}
			}
		})
	}
}
