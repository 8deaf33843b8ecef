package ctrl

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pipelinekit/pipelinekit"
)

// RateLimitScope controls which key a RateLimiter partitions its budget
// by.
type RateLimitScope int

const (
	// ScopeGlobal ignores the caller-supplied key; every caller shares
	// one budget.
	ScopeGlobal RateLimitScope = iota
	// ScopePerUser and ScopePerKey both partition by the caller-supplied
	// key; they're distinguished only for readability at call sites —
	// the caller decides what the key represents (user ID vs. some
	// other partition).
	ScopePerUser
	ScopePerKey
)

func (s RateLimitScope) resolve(key string) string {
	if s == ScopeGlobal {
		return ""
	}
	return key
}

// RateLimitExceeded is returned by Allow when a call is denied. It carries
// enough detail for a caller to decide whether and when to retry.
type RateLimitExceeded struct {
	Limit      int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: limit=%d retry_after=%s", e.Limit, e.RetryAfter)
}

// idleSweepFactor sets how many refill/window periods a partition may sit
// untouched before it's evicted, relative to the limiter's own period.
const idleSweepFactor = 10

// RateLimiter admits or rejects a call costing cost units for a given
// partition key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, cost int) (bool, error)
}

// tokenBucket is one partition's token-bucket state.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// TokenBucketLimiter is a classic token-bucket limiter, partitioned by
// RateLimitScope. Grounded directly on the teacher's ctrl.rateLimiter
// (mutex-guarded tokens/maxTokens/refillRate), generalized from one global
// bucket to one bucket per scope key, a per-call cost, and idle-partition
// eviction so a high-cardinality key space (e.g. per-customer) doesn't
// grow the bucket map without bound.
type TokenBucketLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	rate      int
	per       time.Duration
	maxTokens float64
	scope     RateLimitScope
	idleTTL   time.Duration
	lastSweep time.Time
}

// NewTokenBucketLimiter allows up to rate events per `per` duration,
// bursting up to maxTokens.
func NewTokenBucketLimiter(rate int, per time.Duration, maxTokens int, scope RateLimitScope) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets:   make(map[string]*tokenBucket),
		rate:      rate,
		per:       per,
		maxTokens: float64(maxTokens),
		scope:     scope,
		idleTTL:   per * idleSweepFactor,
	}
}

// Allow implements RateLimiter. On denial the returned error is a
// *RateLimitExceeded describing how long the caller should wait before
// retrying with the same cost.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string, cost int) (bool, error) {
	if l.rate <= 0 {
		return false, pipelinekit.NewError(pipelinekit.KindRateLimitExceeded, "rate limiter configured with non-positive rate", nil)
	}
	if cost <= 0 {
		cost = 1
	}

	partition := l.scope.resolve(key)
	refillRate := float64(l.rate) / l.per.Seconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweepIdleLocked(now)

	b, ok := l.buckets[partition]
	if !ok {
		b = &tokenBucket{tokens: l.maxTokens, lastRefill: now}
		l.buckets[partition] = b
	}
	b.lastAccess = now

	elapsed := now.Sub(b.lastRefill)
	b.tokens = min(l.maxTokens, b.tokens+elapsed.Seconds()*refillRate)
	b.lastRefill = now

	if b.tokens < float64(cost) {
		retryAfter := time.Duration((float64(cost)-b.tokens)/refillRate*float64(time.Second)) * time.Nanosecond
		return false, &RateLimitExceeded{
			Limit:      int(l.maxTokens),
			ResetTime:  now.Add(retryAfter),
			RetryAfter: retryAfter,
		}
	}
	b.tokens -= float64(cost)
	return true, nil
}

// sweepIdleLocked deletes partitions that have gone untouched for
// idleTTL, run at most once per idleTTL interval. l.mu must be held.
func (l *TokenBucketLimiter) sweepIdleLocked(now time.Time) {
	if l.idleTTL <= 0 || now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastAccess) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// slidingWindow tracks event timestamps within a single trailing window.
type slidingWindow struct {
	mu         sync.Mutex
	events     []time.Time
	lastAccess time.Time
}

// SlidingWindowLimiter counts events inside a trailing time window per
// partition, rather than refilling a bucket. Grounded on the retrieval
// pack's catrate.Limiter (per-category event history). An event exactly at
// the window's trailing edge counts as outside it — ties favor admission,
// not rejection.
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	partitions map[string]*slidingWindow
	limit      int
	window     time.Duration
	scope      RateLimitScope
	idleTTL    time.Duration
	lastSweep  time.Time
}

// NewSlidingWindowLimiter allows up to limit events within the trailing
// window duration, per partition.
func NewSlidingWindowLimiter(limit int, window time.Duration, scope RateLimitScope) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		partitions: make(map[string]*slidingWindow),
		limit:      limit,
		window:     window,
		scope:      scope,
		idleTTL:    window * idleSweepFactor,
	}
}

func (l *SlidingWindowLimiter) partitionFor(key string, now time.Time) *slidingWindow {
	partition := l.scope.resolve(key)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepIdleLocked(now)

	p, ok := l.partitions[partition]
	if !ok {
		p = &slidingWindow{}
		l.partitions[partition] = p
	}
	p.lastAccess = now
	return p
}

// sweepIdleLocked deletes partitions that have gone untouched for
// idleTTL, run at most once per idleTTL interval. l.mu must be held.
func (l *SlidingWindowLimiter) sweepIdleLocked(now time.Time) {
	if l.idleTTL <= 0 || now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, p := range l.partitions {
		if now.Sub(p.lastAccess) >= l.idleTTL {
			delete(l.partitions, key)
		}
	}
}

// Allow implements RateLimiter. cost events are recorded against the
// window at once; denial returns a *RateLimitExceeded whose RetryAfter is
// the time until the oldest event inside the window falls out of it.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string, cost int) (bool, error) {
	if l.limit <= 0 {
		return false, pipelinekit.NewError(pipelinekit.KindRateLimitExceeded, "rate limiter configured with non-positive limit", nil)
	}
	if cost <= 0 {
		cost = 1
	}

	now := time.Now()
	p := l.partitionFor(key, now)
	cutoff := now.Add(-l.window)

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.events[:0]
	for _, t := range p.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.events = kept

	if len(p.events)+cost > l.limit {
		retryAfter := l.window
		resetTime := now.Add(l.window)
		if len(p.events) > 0 {
			retryAfter = p.events[0].Add(l.window).Sub(now)
			resetTime = p.events[0].Add(l.window)
		}
		return false, &RateLimitExceeded{
			Limit:      l.limit,
			ResetTime:  resetTime,
			RetryAfter: retryAfter,
		}
	}
	for i := 0; i < cost; i++ {
		p.events = append(p.events, now)
	}
	return true, nil
}

// LoadFactorFunc reports current system load in [0, 1], 0 meaning idle and
// 1 meaning saturated. AdaptiveLimiter uses it to scale down the inner
// limiter's effective admission rate under load.
type LoadFactorFunc func() float64

// AdaptiveLimiter wraps an inner RateLimiter and probabilistically rejects
// an additional fraction of calls as load increases, so a static rate
// degrades gracefully instead of admitting right up to a hard limit
// regardless of downstream health.
type AdaptiveLimiter struct {
	inner     RateLimiter
	loadFn    LoadFactorFunc
	threshold float64 // load factor above which shedding begins
}

// NewAdaptiveLimiter wraps inner, shedding an increasing fraction of calls
// once loadFn() exceeds threshold.
func NewAdaptiveLimiter(inner RateLimiter, loadFn LoadFactorFunc, threshold float64) *AdaptiveLimiter {
	return &AdaptiveLimiter{inner: inner, loadFn: loadFn, threshold: threshold}
}

// Allow implements RateLimiter: it first consults the inner limiter, then
// sheds probabilistically if load exceeds threshold.
func (l *AdaptiveLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	allowed, err := l.inner.Allow(ctx, key, cost)
	if err != nil || !allowed {
		return allowed, err
	}

	load := l.loadFn()
	if load <= l.threshold {
		return true, nil
	}

	// Shed fraction grows linearly from 0 at threshold to 1 at full load.
	shedFraction := (load - l.threshold) / (1 - l.threshold)
	if rand.Float64() < shedFraction {
		return false, &RateLimitExceeded{RetryAfter: 0}
	}
	return true, nil
}
