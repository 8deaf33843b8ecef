package ctrl

import (
	"context"
	"sync"
	"time"

	"github.com/pipelinekit/pipelinekit"
)

// BackPressureStrategy selects what happens when a BackPressureSemaphore
// is at capacity and a new caller arrives.
type BackPressureStrategy int

const (
	// StrategySuspend queues the caller (bounded by MaxQueueDepth) and
	// blocks until a slot frees or ctx is cancelled.
	StrategySuspend BackPressureStrategy = iota
	// StrategyError rejects the caller immediately with KindBackPressure.
	StrategyError
	// StrategyDropOldest queues the new caller; when the queue is already
	// at MaxQueueDepth, the longest-waiting queued caller is evicted first
	// and receives a KindBackPressure error. With MaxQueueDepth 0 nothing
	// is evicted.
	StrategyDropOldest
	// StrategyDropNewest rejects the new caller immediately rather than
	// queuing it, leaving existing queued callers untouched.
	StrategyDropNewest
)

// BackPressureConfig configures a BackPressureSemaphore.
type BackPressureConfig struct {
	Capacity      int
	MaxQueueDepth int // 0 means unbounded queue (StrategySuspend only)
	Strategy      BackPressureStrategy
}

// waiterOutcome records why a queued waiter was woken without ever
// acquiring a slot.
type waiterOutcome int

const (
	outcomeNone waiterOutcome = iota
	outcomeDropped
	outcomeClosed
)

type waiter struct {
	ready   chan struct{}
	outcome waiterOutcome
}

// BackPressureSemaphore is a counting admission gate with a bounded FIFO
// waiter queue and four overflow strategies. It implements
// pipelinekit.Admitter, so it plugs directly into
// PipelineBuilder.WithSemaphore.
//
// Grounded on the teacher's Flow.sem (buffered chan struct{} used as a
// counting semaphore around goroutine launch) and ctrl.rateLimiter's
// mutex-guarded accounting, extended with an explicit waiter queue so a
// freed slot hands off directly to the longest-waiting caller (FIFO)
// instead of being won by whichever goroutine's select fires first.
type BackPressureSemaphore struct {
	cfg BackPressureConfig

	mu     sync.Mutex
	inUse  int
	queue  []*waiter
	closed bool

	totalAcquired  int64
	totalReleased  int64
	totalRejected  int64
	totalDropped   int64
	totalTimedOut  int64
	totalCancelled int64
}

// NewBackPressureSemaphore creates a semaphore per cfg.
func NewBackPressureSemaphore(cfg BackPressureConfig) *BackPressureSemaphore {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	return &BackPressureSemaphore{cfg: cfg}
}

// Acquire implements pipelinekit.Admitter.
func (b *BackPressureSemaphore) Acquire(ctx context.Context) (func(), error) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return nil, pipelinekit.NewError(pipelinekit.KindCancelled, "semaphore is closed", nil)
	}

	if b.inUse < b.cfg.Capacity {
		b.inUse++
		b.totalAcquired++
		b.mu.Unlock()
		return b.release, nil
	}

	switch b.cfg.Strategy {
	case StrategyError:
		b.totalRejected++
		b.mu.Unlock()
		return nil, pipelinekit.NewError(pipelinekit.KindBackPressure, "at capacity", nil)

	case StrategyDropNewest:
		b.totalRejected++
		b.mu.Unlock()
		return nil, pipelinekit.NewError(pipelinekit.KindBackPressure, "at capacity, dropping newest", nil)

	case StrategyDropOldest:
		if b.cfg.MaxQueueDepth > 0 && len(b.queue) >= b.cfg.MaxQueueDepth && len(b.queue) > 0 {
			oldest := b.queue[0]
			b.queue = b.queue[1:]
			oldest.outcome = outcomeDropped
			b.totalDropped++
			close(oldest.ready)
		}
		w := &waiter{ready: make(chan struct{})}
		b.queue = append(b.queue, w)
		b.mu.Unlock()
		return b.waitOn(ctx, w)

	default: // StrategySuspend
		if b.cfg.MaxQueueDepth > 0 && len(b.queue) >= b.cfg.MaxQueueDepth {
			b.totalRejected++
			b.mu.Unlock()
			return nil, pipelinekit.NewError(pipelinekit.KindBackPressure, "queue depth exceeded", nil)
		}
		w := &waiter{ready: make(chan struct{})}
		b.queue = append(b.queue, w)
		b.mu.Unlock()
		return b.waitOn(ctx, w)
	}
}

func (b *BackPressureSemaphore) waitOn(ctx context.Context, w *waiter) (func(), error) {
	select {
	case <-w.ready:
		b.mu.Lock()
		switch w.outcome {
		case outcomeDropped:
			b.mu.Unlock()
			return nil, pipelinekit.NewError(pipelinekit.KindBackPressure, "dropped while queued", nil)
		case outcomeClosed:
			b.mu.Unlock()
			return nil, pipelinekit.NewError(pipelinekit.KindCancelled, "semaphore closed while queued", nil)
		default:
			b.totalAcquired++
			b.mu.Unlock()
			return b.release, nil
		}
	case <-ctx.Done():
		b.mu.Lock()
		for i, q := range b.queue {
			if q == w {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
				break
			}
		}
		if ctx.Err() == context.DeadlineExceeded {
			b.totalTimedOut++
		} else {
			b.totalCancelled++
		}
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// release hands the freed slot directly to the oldest queued waiter, if
// any, otherwise decrements the in-use count. Called exactly once per
// successful Acquire.
func (b *BackPressureSemaphore) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalReleased++
	if len(b.queue) > 0 {
		w := b.queue[0]
		b.queue = b.queue[1:]
		close(w.ready)
		return
	}
	b.inUse--
}

// Close fails every future Acquire with KindCancelled and immediately
// resumes every currently queued waiter with a KindCancelled error. Close
// is idempotent. Outstanding (already-acquired) slots are unaffected and
// must still be released normally.
func (b *BackPressureSemaphore) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, w := range b.queue {
		w.outcome = outcomeClosed
		close(w.ready)
	}
	b.queue = nil
}

// Wait blocks until a slot is immediately available or timeout elapses,
// returning whether one became available in time. Unlike Acquire, Wait
// never leaves the caller holding a slot — it acquires and immediately
// releases, making it a pure readiness probe (e.g. for a caller that wants
// to know whether work would currently be admitted before committing to
// building the command it would submit). Under StrategyError and
// StrategyDropNewest a saturated semaphore makes Wait return false at once
// rather than waiting out timeout.
func (b *BackPressureSemaphore) Wait(ctx context.Context, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := b.Acquire(waitCtx)
	if err != nil {
		return false
	}
	release()
	return true
}

// Stats is a point-in-time snapshot of a BackPressureSemaphore's
// occupancy and cumulative counters, for health checks and metrics
// export. TotalAcquired counts granted slots only. An Acquire call that
// ends without a grant is counted in one of TotalRejected, TotalDropped,
// TotalTimedOut or TotalCancelled, except a call refused or resumed
// because the semaphore was closed, which no counter records.
type Stats struct {
	Capacity       int
	InUse          int
	Queued         int
	TotalAcquired  int64
	TotalReleased  int64
	TotalRejected  int64
	TotalDropped   int64
	TotalTimedOut  int64
	TotalCancelled int64
}

// Stats returns a snapshot of the semaphore's current occupancy and
// cumulative counters.
func (b *BackPressureSemaphore) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Capacity:       b.cfg.Capacity,
		InUse:          b.inUse,
		Queued:         len(b.queue),
		TotalAcquired:  b.totalAcquired,
		TotalReleased:  b.totalReleased,
		TotalRejected:  b.totalRejected,
		TotalDropped:   b.totalDropped,
		TotalTimedOut:  b.totalTimedOut,
		TotalCancelled: b.totalCancelled,
	}
}

// HealthCheckResult reports a BackPressureSemaphore's coarse health and
// its current occupancy ratio.
type HealthCheckResult struct {
	Healthy    bool
	Saturation float64 // InUse / Capacity, in [0, 1]
}

// HealthCheck reports unhealthy when the semaphore is saturated: at
// capacity with a full (bounded) queue.
func (b *BackPressureSemaphore) HealthCheck() HealthCheckResult {
	s := b.Stats()
	saturation := 0.0
	if s.Capacity > 0 {
		saturation = float64(s.InUse) / float64(s.Capacity)
	}
	healthy := !(s.InUse >= b.cfg.Capacity && b.cfg.MaxQueueDepth > 0 && s.Queued >= b.cfg.MaxQueueDepth)
	return HealthCheckResult{Healthy: healthy, Saturation: saturation}
}
