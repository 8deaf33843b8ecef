package observability

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipelinekit/pipelinekit"
)

// PrometheusRecorder implements pipelinekit.MetricsRecorder over
// prometheus/client_golang. Metric vectors are created lazily on first
// use (double-checked locking keyed by name) since a MetricSnapshot's
// label set isn't known until the first Record call for that name.
//
// Grounded on the teacher's PrometheusProvider.
type PrometheusRecorder struct {
	registry        *prometheus.Registry
	mu              sync.RWMutex
	counters        map[string]*prometheus.CounterVec
	gauges          map[string]*prometheus.GaugeVec
	histograms      map[string]*prometheus.HistogramVec
	durationBuckets []float64
}

// PrometheusOption configures a PrometheusRecorder at construction time.
type PrometheusOption func(*PrometheusRecorder)

// WithDurationBuckets overrides the histogram bucket boundaries used for
// timer/histogram metrics.
func WithDurationBuckets(buckets []float64) PrometheusOption {
	return func(r *PrometheusRecorder) { r.durationBuckets = buckets }
}

// WithPrometheusRegistry uses an existing registry instead of creating a
// fresh one. Useful when the caller already runs its own /metrics server.
func WithPrometheusRegistry(registry *prometheus.Registry) PrometheusOption {
	return func(r *PrometheusRecorder) { r.registry = registry }
}

// NewPrometheusRecorder creates a recorder backed by its own registry
// (with the standard Go/process collectors registered) unless
// WithPrometheusRegistry overrides it.
func NewPrometheusRecorder(opts ...PrometheusOption) *PrometheusRecorder {
	r := &PrometheusRecorder{
		counters:        make(map[string]*prometheus.CounterVec),
		gauges:          make(map[string]*prometheus.GaugeVec),
		histograms:      make(map[string]*prometheus.HistogramVec),
		durationBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
		r.registry.MustRegister(collectors.NewGoCollector())
		r.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return r
}

// Record implements pipelinekit.MetricsRecorder.
func (r *PrometheusRecorder) Record(snapshot pipelinekit.MetricSnapshot) {
	labelNames, labelValues := splitTags(snapshot.Tags)

	switch snapshot.Type {
	case pipelinekit.MetricCounter:
		r.getOrCreateCounter(snapshot.Name, labelNames).WithLabelValues(labelValues...).Add(snapshot.Value)
	case pipelinekit.MetricGauge:
		r.getOrCreateGauge(snapshot.Name, labelNames).WithLabelValues(labelValues...).Add(snapshot.Value)
	case pipelinekit.MetricHistogram, pipelinekit.MetricTimer:
		r.getOrCreateHistogram(snapshot.Name, labelNames).WithLabelValues(labelValues...).Observe(snapshot.Value)
	}
}

// Flush is a no-op: Prometheus is pull-based, so there is nothing to
// push on demand. It exists to satisfy pipelinekit.MetricsRecorder for
// recorders (e.g. an OTLP push exporter) that do need one.
func (r *PrometheusRecorder) Flush() error { return nil }

// Handler returns the HTTP handler a caller mounts at /metrics.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) getOrCreateCounter(name string, labelNames []string) *prometheus.CounterVec {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames)
	r.registry.MustRegister(c)
	r.counters[name] = c
	return c
}

func (r *PrometheusRecorder) getOrCreateGauge(name string, labelNames []string) *prometheus.GaugeVec {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames)
	r.registry.MustRegister(g)
	r.gauges[name] = g
	return g
}

func (r *PrometheusRecorder) getOrCreateHistogram(name string, labelNames []string) *prometheus.HistogramVec {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Buckets: r.durationBuckets,
	}, labelNames)
	r.registry.MustRegister(h)
	r.histograms[name] = h
	return h
}

// splitTags deterministically splits a tag map into parallel name/value
// slices sorted by name, since prometheus label vectors are positional.
func splitTags(tags map[string]string) (names, values []string) {
	names = make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	values = make([]string, len(names))
	for i, k := range names {
		values[i] = tags[k]
	}
	return names, values
}
