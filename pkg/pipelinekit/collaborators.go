package pipelinekit

import (
	"encoding/json"
	"time"
)

// Cache is the byte-oriented storage contract consumed by caching
// middleware. Implementations decide eviction policy and persistence;
// the core never calls these methods itself.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string)
	Clear()
}

// GetJSON is a typed convenience wrapper over Cache that decodes the
// stored bytes as JSON. A decode failure is treated the same as a miss.
func GetJSON[V any](c Cache, key string) (V, bool) {
	var zero V
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// SetJSON is a typed convenience wrapper over Cache that encodes value
// as JSON before storing it.
func SetJSON[V any](c Cache, key string, value V, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return WrapError(KindInternal, err, "cache JSON encode failed", nil)
	}
	return c.Set(key, raw, ttl)
}

// MetricType identifies the shape of a MetricSnapshot's value.
type MetricType int

const (
	MetricCounter MetricType = iota
	MetricGauge
	MetricHistogram
	MetricTimer
)

func (t MetricType) String() string {
	switch t {
	case MetricCounter:
		return "counter"
	case MetricGauge:
		return "gauge"
	case MetricHistogram:
		return "histogram"
	case MetricTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// MetricSnapshot is a single point-in-time measurement handed to a
// MetricsRecorder. Tags follow the same key-value shape as a command's
// structured log fields.
type MetricSnapshot struct {
	Name      string
	Type      MetricType
	Value     float64
	Timestamp time.Time
	Tags      map[string]string
	Unit      string
}

// MetricsRecorder is the metrics-export contract consumed by
// instrumentation middleware. Record is expected to be cheap and
// non-blocking; Flush gives batching implementations a place to push
// buffered snapshots out.
type MetricsRecorder interface {
	Record(snapshot MetricSnapshot)
	Flush() error
}

// JournalEntryStatus tracks a journal entry's lifecycle.
type JournalEntryStatus int

const (
	JournalPending JournalEntryStatus = iota
	JournalCompleted
)

// JournalEntry is a single persisted record of a command's execution,
// written before dispatch and updated on completion so an interrupted
// run can be resumed by replaying whatever ReadIncomplete returns.
type JournalEntry struct {
	ID        string
	Kind      string
	Status    JournalEntryStatus
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalStorage is the persistence contract consumed by journaling
// middleware. The core itself persists nothing; this interface exists
// so an optional middleware can checkpoint command execution durably.
type JournalStorage interface {
	Write(entry JournalEntry) error
	Update(entry JournalEntry) error
	ReadIncomplete() ([]JournalEntry, error)
	DeleteCompleted(before time.Time) error
}
