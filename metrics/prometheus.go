package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-ocpi/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusOptions struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Namespace  string
	Buckets    []float64
}

// PrometheusRecorder maps core.MetricsRecorder calls onto Prometheus vectors
// created on first use. The label names of a metric are fixed by its first
// observation; later tags outside that set are dropped and missing ones are
// recorded empty.
type PrometheusRecorder struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	namespace  string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
	onError    func(error)
}

type counterEntry struct {
	labels []string
	vec    *prometheus.CounterVec
}

type histogramEntry struct {
	labels []string
	vec    *prometheus.HistogramVec
}

func NewPrometheusRecorder(opts PrometheusOptions) *PrometheusRecorder {
	registerer := opts.Registerer
	gatherer := opts.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer = registry
		if gatherer == nil {
			gatherer = registry
		}
	}
	if gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}
	namespace := strings.TrimSpace(opts.Namespace)
	if namespace == "" {
		namespace = "ocpi"
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(1, 2, 15)
	}
	return &PrometheusRecorder{
		registerer: registerer,
		gatherer:   gatherer,
		namespace:  namespace,
		buckets:    buckets,
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
		onError:    func(error) {},
	}
}

// OnError receives registration conflicts, which are otherwise dropped.
func (r *PrometheusRecorder) OnError(fn func(error)) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	entry, err := r.counter(name, tags)
	if err != nil {
		r.report(err)
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	entry, err := r.histogram(name, tags)
	if err != nil {
		r.report(err)
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

// Handler serves the gathered metrics in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) counter(name string, tags map[string]string) (*counterEntry, error) {
	metric := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.counters[metric]; ok {
		return entry, nil
	}
	labels := labelNames(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Counter recorded as " + name + ".",
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("metrics: register counter %s: %w", metric, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("metrics: existing collector %s has unexpected type %T", metric, already.ExistingCollector)
		}
		vec = existing
	}
	entry := &counterEntry{labels: labels, vec: vec}
	r.counters[metric] = entry
	return entry, nil
}

func (r *PrometheusRecorder) histogram(name string, tags map[string]string) (*histogramEntry, error) {
	metric := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.histograms[metric]; ok {
		return entry, nil
	}
	labels := labelNames(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Histogram recorded as " + name + ".",
		Buckets:   r.buckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("metrics: register histogram %s: %w", metric, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("metrics: existing collector %s has unexpected type %T", metric, already.ExistingCollector)
		}
		vec = existing
	}
	entry := &histogramEntry{labels: labels, vec: vec}
	r.histograms[metric] = entry
	return entry, nil
}

func (r *PrometheusRecorder) report(err error) {
	r.mu.Lock()
	onError := r.onError
	r.mu.Unlock()
	onError(err)
}

// MetricName turns a dotted recorder name such as ocpi.sync.put.total into a
// valid Prometheus name. A leading ocpi segment is dropped since it is the
// default namespace.
func MetricName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "ocpi.")
	return sanitize(name)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for key := range tags {
		label := sanitize(key)
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		names = append(names, label)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[sanitize(key)] = value
	}
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = byLabel[name]
	}
	return values
}

func sanitize(value string) string {
	var b strings.Builder
	for i, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
