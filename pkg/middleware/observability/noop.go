package observability

import (
	"context"
	"sync"

	"github.com/pipelinekit/pipelinekit"
)

// NoopMetricsRecorder implements pipelinekit.MetricsRecorder by
// discarding every snapshot. Use it when metrics export isn't wired up
// yet but a MetricsRecorder is still required by signature.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) Record(pipelinekit.MetricSnapshot) {}
func (NoopMetricsRecorder) Flush() error                      { return nil }

// InMemoryMetricsRecorder stores every snapshot it receives, keyed by
// name+sorted-tags, so tests can assert on what was recorded without a
// real exporter.
//
// Grounded on the teacher's InMemoryMetricsProvider.
type InMemoryMetricsRecorder struct {
	mu        sync.RWMutex
	snapshots map[string][]pipelinekit.MetricSnapshot
}

// NewInMemoryMetricsRecorder creates an empty recorder.
func NewInMemoryMetricsRecorder() *InMemoryMetricsRecorder {
	return &InMemoryMetricsRecorder{snapshots: make(map[string][]pipelinekit.MetricSnapshot)}
}

func (r *InMemoryMetricsRecorder) Record(snapshot pipelinekit.MetricSnapshot) {
	key := snapshotKey(snapshot.Name, snapshot.Tags)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[key] = append(r.snapshots[key], snapshot)
}

func (r *InMemoryMetricsRecorder) Flush() error { return nil }

// Snapshots returns every recorded snapshot for name+tags, in call order.
func (r *InMemoryMetricsRecorder) Snapshots(name string, tags map[string]string) []pipelinekit.MetricSnapshot {
	key := snapshotKey(name, tags)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipelinekit.MetricSnapshot, len(r.snapshots[key]))
	copy(out, r.snapshots[key])
	return out
}

// Reset clears every recorded snapshot.
func (r *InMemoryMetricsRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = make(map[string][]pipelinekit.MetricSnapshot)
}

func snapshotKey(name string, tags map[string]string) string {
	_, values := splitTags(tags)
	key := name
	for _, v := range values {
		key += "|" + v
	}
	return key
}

// NoopSpanFactory implements SpanFactory by returning a span whose
// methods do nothing. Use it when tracing isn't wired up yet.
type NoopSpanFactory struct{}

func (NoopSpanFactory) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (NoopSpanFactory) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End(error)                       {}
func (noopSpan) SetAttribute(string, any)        {}
func (noopSpan) AddEvent(string, map[string]any) {}
func (noopSpan) SetStatus(SpanStatus, string)    {}
func (noopSpan) SpanContext() SpanContext        { return SpanContext{} }

// RecordedSpan is a finished span captured by InMemorySpanFactory.
type RecordedSpan struct {
	Name       string
	Attributes map[string]any
	Events     []string
	Status     SpanStatus
	Err        error
}

// InMemorySpanFactory records every finished span so tests can assert on
// what was traced without a real tracer backend.
//
// Grounded on the teacher's InMemoryTracerProvider.
type InMemorySpanFactory struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// NewInMemorySpanFactory creates an empty factory.
func NewInMemorySpanFactory() *InMemorySpanFactory {
	return &InMemorySpanFactory{}
}

func (f *InMemorySpanFactory) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := &spanConfig{attributes: make(map[string]any)}
	for _, opt := range opts {
		opt(cfg)
	}
	return ctx, &inMemorySpan{factory: f, name: name, attrs: cfg.attributes}
}

func (f *InMemorySpanFactory) Shutdown(context.Context) error { return nil }

// Spans returns every span finished so far, in End() order.
func (f *InMemorySpanFactory) Spans() []RecordedSpan {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedSpan, len(f.spans))
	copy(out, f.spans)
	return out
}

type inMemorySpan struct {
	factory *InMemorySpanFactory
	name    string
	attrs   map[string]any
	events  []string
	status  SpanStatus
}

func (s *inMemorySpan) End(err error) {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.spans = append(s.factory.spans, RecordedSpan{
		Name:       s.name,
		Attributes: s.attrs,
		Events:     s.events,
		Status:     s.status,
		Err:        err,
	})
}

func (s *inMemorySpan) SetAttribute(key string, value any) { s.attrs[key] = value }
func (s *inMemorySpan) AddEvent(name string, _ map[string]any) {
	s.events = append(s.events, name)
}
func (s *inMemorySpan) SetStatus(code SpanStatus, _ string) { s.status = code }
func (s *inMemorySpan) SpanContext() SpanContext            { return SpanContext{} }
