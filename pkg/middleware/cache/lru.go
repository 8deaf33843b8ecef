// Package cache provides PooledCache, an LRU cache with per-entry TTL for
// pipelinekit command results and registry lookups.
package cache

import (
	"bytes"
	"io"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pipelinekit/pipelinekit"
	"github.com/pipelinekit/pipelinekit/pkg/middleware/ctrl"
)

// Codec serializes and deserializes a PooledCache's value type. PooledCache
// stores the encoded form rather than the value itself, so its memory
// footprint reflects the serialized size and entries can be written
// through a Codec error path without exposing half-decoded values.
type Codec[V any] interface {
	Encode(w io.Writer, v V) error
	Decode(r io.Reader) (V, error)
}

type cacheSlot struct {
	encoded   []byte
	expiresAt time.Time
}

// PooledCache is an LRU cache with a per-entry TTL. Eviction is O(1)
// amortized via an ordered map that tracks recency: a hit moves its key to
// the back (most recently used), and an insert past capacity evicts the
// front (least recently used).
//
// Grounded on the teacher's cache.InMemoryStore (mutex-guarded map,
// timestamp+TTL expiry, copy-in/copy-out to prevent external mutation),
// extended with github.com/wk8/go-ordered-map/v2 for LRU ordering — the
// teacher's plain map has no recency tracking at all — and with a
// ctrl.Pool of scratch buffers (see pkg/middleware/ctrl/pool.go) so a
// Set call's encode step doesn't allocate a fresh buffer every time.
//
// A Get whose stored bytes fail to Decode is treated as a cache miss: the
// corrupt entry is evicted and the caller proceeds as if nothing were
// cached, rather than surfacing a decode error from what looks like a
// read-only cache lookup.
type PooledCache[V any] struct {
	mu         sync.Mutex
	om         *orderedmap.OrderedMap[string, cacheSlot]
	capacity   int
	defaultTTL time.Duration
	codec      Codec[V]
	bufPool    *ctrl.Pool[*bytes.Buffer]
}

// NewPooledCache creates a cache bounded at capacity entries, with
// defaultTTL applied when Set is called with ttl <= 0.
func NewPooledCache[V any](capacity int, defaultTTL time.Duration, codec Codec[V]) *PooledCache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &PooledCache[V]{
		om:         orderedmap.New[string, cacheSlot](),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		codec:      codec,
		bufPool: ctrl.NewPool(8,
			func() *bytes.Buffer { return new(bytes.Buffer) },
			func(b *bytes.Buffer) bool { b.Reset(); return true },
		),
	}
}

// Set encodes value via the cache's Codec and stores it under key with the
// given ttl (defaultTTL if ttl <= 0), evicting the least-recently-used
// entry first if the cache is at capacity and key is new.
func (c *PooledCache[V]) Set(key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	buf := c.bufPool.Borrow()
	defer c.bufPool.Release(buf)

	if err := c.codec.Encode(buf, value); err != nil {
		return pipelinekit.WrapError(pipelinekit.KindInternal, err, "cache encode failed", nil)
	}
	encoded := make([]byte, buf.Len())
	copy(encoded, buf.Bytes())

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, existed := c.om.Get(key); !existed && c.om.Len() >= c.capacity {
		if oldest := c.om.Oldest(); oldest != nil {
			c.om.Delete(oldest.Key)
		}
	}

	c.om.Set(key, cacheSlot{encoded: encoded, expiresAt: time.Now().Add(ttl)})
	c.om.MoveToBack(key)
	return nil
}

// Get retrieves and decodes the value stored under key. It returns
// (zero, false) on a miss, an expired entry, or a decode failure.
func (c *PooledCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	slot, ok := c.om.Get(key)
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	if time.Now().After(slot.expiresAt) {
		c.om.Delete(key)
		c.mu.Unlock()
		return zero, false
	}
	c.om.MoveToBack(key)
	encoded := slot.encoded
	c.mu.Unlock()

	value, err := c.codec.Decode(bytes.NewReader(encoded))
	if err != nil {
		c.mu.Lock()
		c.om.Delete(key)
		c.mu.Unlock()
		return zero, false
	}
	return value, true
}

// Delete removes key, if present.
func (c *PooledCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.om.Delete(key)
}

// Clear removes every entry.
func (c *PooledCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.om = orderedmap.New[string, cacheSlot]()
}

// Len returns the number of entries currently stored. Expired entries that
// have not yet been touched by Get/Set are still counted until they're
// next accessed (consistent with the teacher's lazy-expiry
// InMemoryStore).
func (c *PooledCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.om.Len()
}

// Keys returns every currently stored key, ordered least- to
// most-recently used.
func (c *PooledCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.om.Len())
	for pair := c.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}
