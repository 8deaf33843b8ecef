package ctrl

import (
	"sync"

	"github.com/pipelinekit/pipelinekit"
)

// PressureLevel classifies current memory pressure, reported to a Pool's
// subscribers so they can shrink proactively rather than waiting for an
// allocation failure.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

// Pool is a bounded, reusable-object pool with an explicit factory and
// reset hook. Unlike sync.Pool, a Pool has a hard capacity (no unbounded
// growth), its contents are not swept by the garbage collector between
// GC cycles, and it reacts to explicit pressure notifications rather than
// only to GC pauses.
//
// No library in the example corpus ships a generic bounded pool with
// pressure-driven shrinking — this is the one pipelinekit component built
// on the standard library only (see DESIGN.md). Its scoped-borrow helper
// is grounded on the defer-based cleanup idiom throughout the teacher's
// pkg/calque (e.g. pipeline.go's `defer pipes[idx].w.Close()`).
type Pool[T any] struct {
	factory func() T
	reset   func(T) bool

	mu          sync.Mutex
	available   []T
	maxSize     int
	borrowed    int
	acquisitions int64
	releases     int64
	allocations  int64
}

// NewPool creates a pool bounded at maxSize, producing new items with
// factory and clearing returned items with reset before they're reused.
// reset reports whether the item is still fit for reuse; when it returns
// false the item is dropped rather than returned to the pool. A nil reset
// is treated as always succeeding.
func NewPool[T any](maxSize int, factory func() T, reset func(T) bool) *Pool[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Pool[T]{factory: factory, reset: reset, maxSize: maxSize}
}

// Borrow removes an item from the pool, creating a fresh one via factory
// if the pool is currently empty. The caller must return it with Release
// when done.
func (p *Pool[T]) Borrow() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquisitions++
	p.borrowed++
	if n := len(p.available); n > 0 {
		item := p.available[n-1]
		p.available = p.available[:n-1]
		return item
	}
	p.allocations++
	return p.factory()
}

// Release resets item and returns it to the pool, unless reset reports the
// item unfit for reuse or the pool is already at capacity, in which case
// item is discarded.
func (p *Pool[T]) Release(item T) {
	keep := true
	if p.reset != nil {
		keep = p.reset(item)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	p.borrowed--
	if keep && len(p.available) < p.maxSize {
		p.available = append(p.available, item)
	}
}

// WithBorrowed borrows an item, runs fn with it, and always releases it
// afterward — even if fn panics.
func (p *Pool[T]) WithBorrowed(fn func(item T) error) error {
	item := p.Borrow()
	defer p.Release(item)
	return fn(item)
}

// Prewarm populates the pool with up to n freshly allocated idle items, so
// the first n borrows after startup don't pay the factory cost. It never
// exceeds the pool's capacity and returns the number of items actually
// added.
func (p *Pool[T]) Prewarm(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	room := p.maxSize - len(p.available)
	add := min(n, room)
	for i := 0; i < add; i++ {
		p.allocations++
		p.available = append(p.available, p.factory())
	}
	return add
}

// Clear discards every currently idle item. Items already borrowed are
// unaffected; when the caller eventually calls Release they are returned
// to the idle list as usual (reset and capacity permitting).
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = nil
}

// Shrink discards up to n currently-idle items, for use by a
// MemoryPressureHandler reacting to a pressure change. It never discards
// items that are currently borrowed.
func (p *Pool[T]) Shrink(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	discard := min(n, len(p.available))
	if discard <= 0 {
		return 0
	}
	p.available = p.available[:len(p.available)-discard]
	return discard
}

// PoolStats summarizes a Pool's cumulative activity: how many times items
// were borrowed, returned, and actually allocated via the factory, plus the
// resulting fraction of borrows served from the idle list rather than
// freshly allocated.
type PoolStats struct {
	Acquisitions int64
	Releases     int64
	Allocations  int64
	HitRate      float64
}

// Stats reports the pool's cumulative acquisition/release/allocation
// counters and hit rate.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	hitRate := 0.0
	if p.acquisitions > 0 {
		hitRate = float64(p.acquisitions-p.allocations) / float64(p.acquisitions)
	}
	return PoolStats{
		Acquisitions: p.acquisitions,
		Releases:     p.releases,
		Allocations:  p.allocations,
		HitRate:      hitRate,
	}
}

// snapshot reports the pool's current idle/borrowed/capacity counts, for
// internal use by MemoryPressureHandler sizing decisions.
func (p *Pool[T]) snapshot() (idle, borrowed, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), p.borrowed, p.maxSize
}

// poolShrinker is the subset of Pool's behavior MemoryPressureHandler
// needs, independent of T — lets one handler subscribe pools of different
// element types.
type poolShrinker interface {
	Shrink(n int) int
	snapshot() (idle, borrowed, capacity int)
}

// shrinkerAdapter adapts a *Pool[T] to poolShrinker.
type shrinkerAdapter[T any] struct{ pool *Pool[T] }

func (a shrinkerAdapter[T]) Shrink(n int) int                    { return a.pool.Shrink(n) }
func (a shrinkerAdapter[T]) snapshot() (idle, borrowed, capacity int) { return a.pool.snapshot() }

// MemoryPressureHandler fans a pressure-level change out to every
// subscribed pool, instructing each to shrink its idle items by a fraction
// of their current idle count: half on Warning, down to an operator-chosen
// floor on Critical.
type MemoryPressureHandler struct {
	mu            sync.Mutex
	subscribers   map[int]poolShrinker
	nextID        int
	criticalFloor int // items to retain per pool even under Critical pressure
}

// NewMemoryPressureHandler creates a handler that shrinks subscribed pools
// to at most criticalFloor idle items under Critical pressure.
func NewMemoryPressureHandler(criticalFloor int) *MemoryPressureHandler {
	return &MemoryPressureHandler{criticalFloor: criticalFloor, subscribers: make(map[int]poolShrinker)}
}

// Subscribe registers pool to receive pressure notifications, returning an
// id that can later be passed to Unregister.
func Subscribe[T any](h *MemoryPressureHandler, pool *Pool[T]) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = shrinkerAdapter[T]{pool: pool}
	return id
}

// Unregister removes a previously subscribed pool by id, reporting whether
// it was still registered.
func (h *MemoryPressureHandler) Unregister(id int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[id]; !ok {
		return false
	}
	delete(h.subscribers, id)
	return true
}

// Notify applies level to every subscribed pool. PressureNormal is a
// no-op; PressureWarning halves each pool's idle items; PressureCritical
// shrinks each pool down to criticalFloor idle items.
func (h *MemoryPressureHandler) Notify(level PressureLevel) {
	h.mu.Lock()
	subs := make([]poolShrinker, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		idle, _, _ := s.snapshot()
		switch level {
		case PressureWarning:
			s.Shrink(idle / 2)
		case PressureCritical:
			s.Shrink(max(0, idle-h.criticalFloor))
		}
	}
}

// HealthCheck reports an error if any subscribed pool is fully exhausted
// (no idle items and at least capacity items currently borrowed).
func (h *MemoryPressureHandler) HealthCheck() error {
	h.mu.Lock()
	subs := make([]poolShrinker, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		idle, borrowed, capacity := s.snapshot()
		if idle == 0 && borrowed >= capacity {
			return pipelinekit.NewError(pipelinekit.KindInternal, "object pool exhausted", nil)
		}
	}
	return nil
}
