// Package metrics exposes Prometheus collectors for the activation service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/keygate/internal/model"
)

const namespace = "keygate"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	outcomes    *prometheus.CounterVec
	locks       *prometheus.CounterVec
	codes       *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
}

// New creates and registers the collectors together with the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activation",
			Name:      "outcomes_total",
			Help:      "Activation outcomes by operation and internal reason.",
		}, []string{"operation", "reason"}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquire_total",
			Help:      "Lock acquisition attempts by result.",
		}, []string{"result"}),
		codes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codes",
			Name:      "generated_total",
			Help:      "Generated activation codes by product id.",
		}, []string{"product_id"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC requests in seconds.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, .75, 1, 2.5},
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		m.outcomes, m.locks, m.codes, m.rpcDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOutcome counts an activation outcome.
func (m *Metrics) ObserveOutcome(operation string, o model.Outcome) {
	reason := string(o.Reason)
	if o.Valid {
		reason = "ok"
	}
	m.outcomes.WithLabelValues(operation, reason).Inc()
}

// ObserveLock counts a lock acquisition attempt.
func (m *Metrics) ObserveLock(acquired bool) {
	result := "contended"
	if acquired {
		result = "acquired"
	}
	m.locks.WithLabelValues(result).Inc()
}

// ObserveCodes counts n generated codes for productID.
func (m *Metrics) ObserveCodes(productID string, n int) {
	m.codes.WithLabelValues(productID).Add(float64(n))
}

// ObserveRPC records the duration of a finished gRPC call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	m.rpcDuration.WithLabelValues(method, code).Observe(d.Seconds())
}
