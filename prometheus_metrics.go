package docmodel

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registerer prometheus.Registerer
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registerer is nil, uses the default Prometheus registerer
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registerer: registerer,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers all standard docmodel metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	factory := promauto.With(p.registerer)

	p.counters[MetricOperations] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmodel",
			Subsystem: "manager",
			Name:      "operations_total",
			Help:      "Total number of entity manager operations",
		},
		[]string{"entity", "operation", "outcome"},
	)

	p.counters[MetricIntegrityConflicts] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmodel",
			Subsystem: "constraints",
			Name:      "conflicts_total",
			Help:      "Total number of uniqueness conflicts, by detection source",
		},
		[]string{"entity", "source"},
	)

	p.histograms[MetricOperationDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docmodel",
			Subsystem: "manager",
			Name:      "operation_duration_seconds",
			Help:      "Entity manager operation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"entity", "operation"},
	)

	p.histograms[MetricQueryResults] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docmodel",
			Subsystem: "query",
			Name:      "results",
			Help:      "Number of entities returned by filter queries",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"entity"},
	)

	p.gauges[MetricRegisteredTypes] = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docmodel",
			Subsystem: "registry",
			Name:      "types",
			Help:      "Number of registered entity types",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registerer).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmodel",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			labelNames(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	if c, err := counter.GetMetricWith(labelValues(tags)); err == nil {
		c.Inc()
	}
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "docmodel",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			labelNames(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	if g, err := gauge.GetMetricWith(labelValues(tags)); err == nil {
		g.Set(value)
	}
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docmodel",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			labelNames(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	if h, err := histogram.GetMetricWith(labelValues(tags)); err == nil {
		h.Observe(value)
	}
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// labelNames extracts label names from tags (every even index)
func labelNames(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// labelValues creates a label map from tags (key-value pairs)
func labelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// sanitizeMetricName turns dotted names into valid Prometheus names.
func sanitizeMetricName(name string) string {
	out := []byte(name)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}
