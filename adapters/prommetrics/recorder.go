package prommetrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-outreach/core"
)

// DefaultLabels is the fixed label set every vector carries. Tags outside it
// are dropped and missing ones are exported empty, so one metric name never
// sees two label shapes.
var DefaultLabels = []string{
	"operation",
	"status",
	"job_type",
	"event",
	"outcome",
	"content_kind",
	"method",
	"route",
	"code",
}

// DefaultBuckets suit the millisecond durations the observer records.
var DefaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Recorder implements core.MetricsRecorder on Prometheus vectors, created on
// first use per metric name.
type Recorder struct {
	namespace  string
	labels     []string
	buckets    []float64
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitize(namespace)
	}
}

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// WithRegistry registers vectors on registry and serves it from Handler.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registerer = registry
			r.gatherer = registry
		}
	}
}

func New(opts ...Option) *Recorder {
	recorder := &Recorder{
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    append([]float64(nil), DefaultBuckets...),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

// Handler serves the registry the recorder writes to.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Outreach counter " + name + ".",
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if !errors.As(err, &existing) {
			return nil
		}
		shared, ok := existing.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = shared
	}
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Outreach histogram " + name + ".",
		Buckets:   r.buckets,
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if !errors.As(err, &existing) {
			return nil
		}
		shared, ok := existing.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = shared
	}
	r.histograms[metric] = vec
	return vec
}

func (r *Recorder) labelValues(tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = strings.TrimSpace(tags[label])
	}
	return values
}

// sanitize maps "outreach.jobs.run.total" to "outreach_jobs_run_total".
func sanitize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(name))
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch == '_', ch == ':':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
