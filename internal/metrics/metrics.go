package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "localllama"

// Collector collects request and generation metrics. Each Collector owns its
// own prometheus registry so that servers in tests do not share state.
type Collector struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	requestErrors      *prometheus.CounterVec
	requestsInProgress *prometheus.GaugeVec
	requestDuration    *prometheus.HistogramVec

	generations        *prometheus.CounterVec
	completionTokens   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	timeToFirstToken   prometheus.Histogram
	stopSignals        prometheus.Counter

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests by endpoint.",
		}, []string{"endpoint"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Total number of requests answered with an error status, by endpoint.",
		}, []string{"endpoint"}),
		requestsInProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_progress",
			Help:      "Current number of requests being processed.",
		}, []string{"endpoint"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration by endpoint, including the full streamed body.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Finished generations by kind and finish reason.",
		}, []string{"kind", "finish_reason"}),
		completionTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Tokens emitted to clients by model.",
		}, []string{"model"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation loop by kind.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60, 120, 300},
		}, []string{"kind"}),
		timeToFirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Delay between request start and the first flushed token.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		stopSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_signals_total",
			Help:      "Stop requests received.",
		}),
		startTime: time.Now(),
	}

	c.registry.MustRegister(
		c.requests,
		c.requestErrors,
		c.requestsInProgress,
		c.requestDuration,
		c.generations,
		c.completionTokens,
		c.generationDuration,
		c.timeToFirstToken,
		c.stopSignals,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the server started.",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.requestsInProgress.WithLabelValues(endpoint).Inc()
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.requestsInProgress.WithLabelValues(endpoint).Dec()
}

// RecordRequest records a finished request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.requests.WithLabelValues(endpoint).Inc()
	c.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.requestErrors.WithLabelValues(endpoint).Inc()
}

// RecordGeneration records the outcome of one generation loop.
func (c *Collector) RecordGeneration(kind, finishReason, model string, tokens int, duration time.Duration) {
	c.generations.WithLabelValues(kind, finishReason).Inc()
	if tokens > 0 {
		c.completionTokens.WithLabelValues(model).Add(float64(tokens))
	}
	c.generationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordFirstToken records time to first token.
func (c *Collector) RecordFirstToken(ttfb time.Duration) {
	c.timeToFirstToken.Observe(ttfb.Seconds())
}

// RecordStop counts a stop request.
func (c *Collector) RecordStop() {
	c.stopSignals.Inc()
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
