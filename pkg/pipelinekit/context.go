package pipelinekit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CommandMetadata is the fixed, immutable envelope every CommandContext
// carries: identity and timing information set once at creation.
type CommandMetadata struct {
	CommandID     uuid.UUID
	CorrelationID string
	UserID        string
	Timestamp     time.Time
}

// keyToken is the unique identity behind a Key[V]. Two Key[V] values are
// the same key if and only if they share a token pointer — the name is
// for diagnostics only and never participates in equality.
type keyToken struct {
	name string
}

// Key identifies a single typed slot in a CommandContext. Keys are created
// with NewKey and are safe to share across goroutines and pipelines; each
// call to NewKey produces a distinct key even if the name is reused.
type Key[V any] struct {
	token *keyToken
}

// NewKey creates a fresh, globally unique key for values of type V. name
// is used only in diagnostics (e.g. context dumps).
func NewKey[V any](name string) Key[V] {
	return Key[V]{token: &keyToken{name: name}}
}

// String returns the key's diagnostic name.
func (k Key[V]) String() string { return k.token.name }

// CommandContext is the per-command, concurrency-safe key→value store
// threaded through a chain alongside the command value. It supports cheap
// forking for fan-out (Parallel-style middleware): a fork shares its
// parent's data until either side writes, at which point that side takes a
// private copy-on-write snapshot.
type CommandContext struct {
	mu       sync.RWMutex
	base     map[*keyToken]any
	frozen   bool // true once shared with a fork; forces copy-on-write on next write
	metadata CommandMetadata
	metrics  map[string]float64
	span     any
}

// NewCommandContext creates a root CommandContext for a single command
// execution.
func NewCommandContext(meta CommandMetadata) *CommandContext {
	if meta.CommandID == uuid.Nil {
		meta.CommandID = uuid.New()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	return &CommandContext{
		base:     make(map[*keyToken]any),
		metadata: meta,
		metrics:  make(map[string]float64),
	}
}

// Metadata returns the context's immutable envelope.
func (c *CommandContext) Metadata() CommandMetadata {
	return c.metadata
}

// ensureOwnBase must be called with c.mu held for writing. It takes a
// private copy of base the first time a frozen (shared) context is
// mutated, so earlier forks never observe later writes.
func (c *CommandContext) ensureOwnBase() {
	if !c.frozen {
		return
	}
	owned := make(map[*keyToken]any, len(c.base))
	for k, v := range c.base {
		owned[k] = v
	}
	c.base = owned
	c.frozen = false
}

func (c *CommandContext) ensureOwnMetrics() {
	owned := make(map[string]float64, len(c.metrics))
	for k, v := range c.metrics {
		owned[k] = v
	}
	c.metrics = owned
}

// Fork returns a child CommandContext that initially shares this context's
// data. Both parent and child may continue writing independently: the
// first writer on either side pays for a private copy, the other keeps
// reading the shared snapshot until it too writes. This gives fan-out
// middleware (batch dispatch, parallel branches) O(1) context creation
// instead of an eager deep copy.
func (c *CommandContext) Fork() *CommandContext {
	c.mu.Lock()
	c.frozen = true
	base := c.base
	metrics := c.metrics
	c.mu.Unlock()

	return &CommandContext{
		base:     base,
		frozen:   true,
		metadata: c.metadata,
		metrics:  metrics,
	}
}

// Merge copies every key from other into c, overwriting c's existing
// values on key collision. Used to fold a forked branch's writes back into
// the parent once a fan-out completes.
func (c *CommandContext) Merge(other *CommandContext) {
	other.mu.RLock()
	otherBase := make(map[*keyToken]any, len(other.base))
	for k, v := range other.base {
		otherBase[k] = v
	}
	otherMetrics := make(map[string]float64, len(other.metrics))
	for k, v := range other.metrics {
		otherMetrics[k] = v
	}
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureOwnBase()
	for k, v := range otherBase {
		c.base[k] = v
	}
	c.ensureOwnMetrics()
	for k, v := range otherMetrics {
		c.metrics[k] = v
	}
}

// Set stores v under k. Safe to call concurrently with Get from other
// goroutines; concurrent Set calls on the same context are serialized.
func Set[V any](c *CommandContext, k Key[V], v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureOwnBase()
	c.base[k.token] = v
}

// Get retrieves the value stored under k, if any.
func Get[V any](c *CommandContext, k Key[V]) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero V
	raw, ok := c.base[k.token]
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Delete removes the value stored under k, if any.
func Delete[V any](c *CommandContext, k Key[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureOwnBase()
	delete(c.base, k.token)
}

// RecordMetric accumulates a named numeric metric on the context, adding
// to any existing value under the same name.
func (c *CommandContext) RecordMetric(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureOwnMetrics()
	c.metrics[name] += value
}

// Metrics returns a snapshot copy of the context's recorded metrics.
func (c *CommandContext) Metrics() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.metrics))
	for k, v := range c.metrics {
		out[k] = v
	}
	return out
}

// WithSpan attaches an opaque tracing span handle (see
// pkg/middleware/observability) to the context.
func (c *CommandContext) WithSpan(span any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.span = span
}

// Span returns the opaque tracing span handle previously attached with
// WithSpan, or nil.
func (c *CommandContext) Span() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.span
}

// Keys returns the diagnostic names of every key currently set, for use in
// logging and debugging dumps; order is unspecified.
func (c *CommandContext) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.base))
	for k := range c.base {
		names = append(names, k.name)
	}
	return names
}

// ContextSnapshot is a read-only diagnostic dump of a CommandContext,
// cheap enough to log or expose on a debug endpoint without handing out
// the live context.
type ContextSnapshot struct {
	UserID        string
	CorrelationID string
	Keys          []string
}

// Snapshot returns a diagnostic copy of c's identity fields and currently
// set key names, in one call.
func (c *CommandContext) Snapshot() ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.base))
	for k := range c.base {
		names = append(names, k.name)
	}
	return ContextSnapshot{
		UserID:        c.metadata.UserID,
		CorrelationID: c.metadata.CorrelationID,
		Keys:          names,
	}
}
