package ctrl

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: time.Hour, HalfOpenProbes: 1})

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("Allow() call %d want true while closed", i)
		}
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want CircuitOpen after %d failures", cb.State(), 3)
	}
	if cb.Allow() {
		t.Fatal("Allow() want false while open and before timeout")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenProbes: 1})

	cb.Allow()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want CircuitOpen", cb.State())
	}

	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Allow() want true after OpenTimeout elapses (half-open probe)")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("State() = %v, want CircuitHalfOpen", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("State() = %v, want CircuitClosed after successful probe", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenProbes: 1})
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Allow() want true for half-open probe")
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want CircuitOpen after half-open probe fails", cb.State())
	}
}

func TestCircuitBreaker_Guard(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour, HalfOpenProbes: 1})

	boom := errors.New("boom")
	if err := cb.Guard(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Guard() error = %v, want %v", err, boom)
	}

	if err := cb.Guard(func() error { return nil }); err == nil {
		t.Fatal("Guard() want KindCircuitOpen error once tripped, got nil")
	}
}
