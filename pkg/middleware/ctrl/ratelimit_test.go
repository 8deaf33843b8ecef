package ctrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketLimiter_AllowsBurstThenThrottles(t *testing.T) {
	l := NewTokenBucketLimiter(10, time.Second, 2, ScopeGlobal)

	allowed1, err := l.Allow(context.Background(), "", 1)
	if err != nil || !allowed1 {
		t.Fatalf("Allow() 1 = %v, %v, want true, nil", allowed1, err)
	}
	allowed2, err := l.Allow(context.Background(), "", 1)
	if err != nil || !allowed2 {
		t.Fatalf("Allow() 2 = %v, %v, want true, nil", allowed2, err)
	}
	allowed3, err := l.Allow(context.Background(), "", 1)
	if allowed3 {
		t.Fatal("Allow() 3 want false, burst of 2 tokens exhausted")
	}
	var rle *RateLimitExceeded
	if !errors.As(err, &rle) {
		t.Fatalf("Allow() 3 error = %v, want *RateLimitExceeded", err)
	}
	if rle.Limit != 2 {
		t.Errorf("RateLimitExceeded.Limit = %d, want 2", rle.Limit)
	}
}

func TestTokenBucketLimiter_PerKeyPartitioning(t *testing.T) {
	l := NewTokenBucketLimiter(10, time.Second, 1, ScopePerKey)

	allowedA, _ := l.Allow(context.Background(), "a", 1)
	allowedB, _ := l.Allow(context.Background(), "b", 1)
	if !allowedA || !allowedB {
		t.Fatalf("Allow() for distinct keys = %v, %v, want both true", allowedA, allowedB)
	}

	allowedA2, _ := l.Allow(context.Background(), "a", 1)
	if allowedA2 {
		t.Fatal("Allow() second call for key 'a' want false, bucket exhausted")
	}
}

func TestTokenBucketLimiter_RejectsNonPositiveRate(t *testing.T) {
	l := NewTokenBucketLimiter(0, time.Second, 1, ScopeGlobal)
	if _, err := l.Allow(context.Background(), "", 1); err == nil {
		t.Fatal("Allow() with rate 0 want error, got nil")
	}
}

func TestTokenBucketLimiter_CostGreaterThanOneConsumesMultipleTokens(t *testing.T) {
	l := NewTokenBucketLimiter(10, time.Second, 5, ScopeGlobal)

	allowed, err := l.Allow(context.Background(), "", 3)
	if err != nil || !allowed {
		t.Fatalf("Allow(cost=3) = %v, %v, want true, nil", allowed, err)
	}

	allowed2, err := l.Allow(context.Background(), "", 3)
	if allowed2 {
		t.Fatal("Allow(cost=3) second call want false, only 2 tokens remain")
	}
	var rle *RateLimitExceeded
	if !errors.As(err, &rle) {
		t.Fatalf("Allow() error = %v, want *RateLimitExceeded", err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("RateLimitExceeded.RetryAfter = %v, want > 0", rle.RetryAfter)
	}
}

func TestTokenBucketLimiter_EvictsIdlePartitions(t *testing.T) {
	l := NewTokenBucketLimiter(10, time.Millisecond, 1, ScopePerKey)
	l.idleTTL = 10 * time.Millisecond

	if _, err := l.Allow(context.Background(), "stale-key", 1); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if len(l.buckets) != 1 {
		t.Fatalf("buckets len = %d, want 1 right after first Allow", len(l.buckets))
	}

	time.Sleep(20 * time.Millisecond)
	// A call against a different key triggers the opportunistic sweep and
	// should find "stale-key" idle long enough to evict.
	if _, err := l.Allow(context.Background(), "fresh-key", 1); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	l.mu.Lock()
	_, staleStillPresent := l.buckets["stale-key"]
	l.mu.Unlock()
	if staleStillPresent {
		t.Error("stale-key bucket still present after exceeding idleTTL, want evicted")
	}
}

func TestSlidingWindowLimiter_CountsWithinWindow(t *testing.T) {
	l := NewSlidingWindowLimiter(2, 50*time.Millisecond, ScopeGlobal)

	a1, _ := l.Allow(context.Background(), "", 1)
	a2, _ := l.Allow(context.Background(), "", 1)
	a3, err := l.Allow(context.Background(), "", 1)
	if !a1 || !a2 {
		t.Fatalf("first two Allow() calls = %v, %v, want both true", a1, a2)
	}
	if a3 {
		t.Fatal("third Allow() call within window want false")
	}
	var rle *RateLimitExceeded
	if !errors.As(err, &rle) {
		t.Fatalf("Allow() error = %v, want *RateLimitExceeded", err)
	}

	time.Sleep(60 * time.Millisecond)
	a4, _ := l.Allow(context.Background(), "", 1)
	if !a4 {
		t.Fatal("Allow() after window elapses want true")
	}
}

func TestSlidingWindowLimiter_CostConsumesMultipleSlots(t *testing.T) {
	l := NewSlidingWindowLimiter(3, 50*time.Millisecond, ScopeGlobal)

	allowed, err := l.Allow(context.Background(), "", 2)
	if err != nil || !allowed {
		t.Fatalf("Allow(cost=2) = %v, %v, want true, nil", allowed, err)
	}
	allowed2, _ := l.Allow(context.Background(), "", 2)
	if allowed2 {
		t.Fatal("Allow(cost=2) second call want false, only 1 slot remains")
	}
}

func TestSlidingWindowLimiter_EvictsIdlePartitions(t *testing.T) {
	l := NewSlidingWindowLimiter(5, time.Millisecond, ScopePerKey)
	l.idleTTL = 10 * time.Millisecond

	if _, err := l.Allow(context.Background(), "stale-key", 1); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := l.Allow(context.Background(), "fresh-key", 1); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	l.mu.Lock()
	_, staleStillPresent := l.partitions["stale-key"]
	l.mu.Unlock()
	if staleStillPresent {
		t.Error("stale-key partition still present after exceeding idleTTL, want evicted")
	}
}

func TestAdaptiveLimiter_ShedsUnderLoad(t *testing.T) {
	inner := NewTokenBucketLimiter(1000, time.Second, 1000, ScopeGlobal)
	l := NewAdaptiveLimiter(inner, func() float64 { return 1.0 }, 0.5)

	shed := 0
	for i := 0; i < 200; i++ {
		allowed, err := l.Allow(context.Background(), "", 1)
		if !allowed {
			shed++
			var rle *RateLimitExceeded
			if !errors.As(err, &rle) {
				t.Fatalf("Allow() denial error = %v, want *RateLimitExceeded", err)
			}
		}
	}

	if shed == 0 {
		t.Fatal("AdaptiveLimiter at full load want some calls shed, got none")
	}
}

func TestAdaptiveLimiter_NoSheddingBelowThreshold(t *testing.T) {
	inner := NewTokenBucketLimiter(1000, time.Second, 1000, ScopeGlobal)
	l := NewAdaptiveLimiter(inner, func() float64 { return 0.1 }, 0.5)

	for i := 0; i < 50; i++ {
		allowed, err := l.Allow(context.Background(), "", 1)
		if err != nil || !allowed {
			t.Fatalf("Allow() call %d = %v, %v, want true, nil below threshold", i, allowed, err)
		}
	}
}
