// Package metrics exposes node counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "temper"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal        prometheus.Counter
	sentinelSamples     prometheus.Counter
	alertsFired         *prometheus.CounterVec
	sinkFailures        *prometheus.CounterVec
	associationAttempts prometheus.Counter
	provisioningState   prometheus.Gauge
	lastTemperature     prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples appended to the rolling history.",
		}),
		sentinelSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_unavailable_total",
			Help:      "Samples whose temperature was unavailable.",
		}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alert policy firings by reason.",
		}, []string{"reason"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Failed notification deliveries by sink and kind.",
		}, []string{"sink", "kind"}),
		associationAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "association_attempts_total",
			Help:      "Radio status polls made while connecting.",
		}),
		provisioningState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provisioning_state",
			Help:      "0 unprovisioned, 1 gathering, 2 connecting, 3 connected, 4 failed.",
		}),
		lastTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Most recent valid temperature.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.samplesTotal,
		m.sentinelSamples,
		m.alertsFired,
		m.sinkFailures,
		m.associationAttempts,
		m.provisioningState,
		m.lastTemperature,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Sample records one appended sample. valid is false for sentinel readings.
func (m *Metrics) Sample(celsius float64, valid bool) {
	if m == nil {
		return
	}
	m.samplesTotal.Inc()
	if !valid {
		m.sentinelSamples.Inc()
		return
	}
	m.lastTemperature.Set(celsius)
}

func (m *Metrics) AlertFired(reason string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(reason).Inc()
}

func (m *Metrics) SinkFailure(sink, kind string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink, kind).Inc()
}

func (m *Metrics) AssociationAttempts(n int) {
	if m == nil {
		return
	}
	m.associationAttempts.Add(float64(n))
}

func (m *Metrics) ProvisioningState(state int) {
	if m == nil {
		return
	}
	m.provisioningState.Set(float64(state))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and durations for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
