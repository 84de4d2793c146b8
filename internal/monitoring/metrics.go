package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerStates lists the supervisor states exported by the state gauge.
var ServerStates = []string{"stopped", "starting", "running", "unreachable"}

// Metrics tracks sitedesk Prometheus metrics.
//
// All metrics use the sitedesk_ prefix. Every method is safe on a nil
// receiver so components can run without a registry.
type Metrics struct {
	// ProbesTotal counts liveness probes by result ("alive", "dead")
	ProbesTotal *prometheus.CounterVec

	// ProbeDuration tracks probe latency
	ProbeDuration prometheus.Histogram

	// ServerUp is 1 while the last probe succeeded
	ServerUp prometheus.Gauge

	// LivenessTransitions counts emitted liveness edges by new value
	LivenessTransitions *prometheus.CounterVec

	// ServerState is 1 for the supervisor's current state, 0 otherwise
	ServerState *prometheus.GaugeVec

	// TransformsTotal counts transforms by operation and status
	TransformsTotal *prometheus.CounterVec

	// TransformDuration tracks transform latency by operation
	TransformDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the metrics with reg. Collectors already
// registered on reg are reused, so a second controller in the same process
// keeps exporting through the first set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedesk_probes_total",
				Help: "Total liveness probes by result",
			},
			[]string{"result"},
		),
		ProbeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitedesk_probe_duration_seconds",
				Help:    "Liveness probe duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		ServerUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitedesk_server_up",
				Help: "Whether the last liveness probe succeeded",
			},
		),
		LivenessTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedesk_liveness_transitions_total",
				Help: "Total liveness edges emitted by the poller",
			},
			[]string{"to"},
		),
		ServerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitedesk_server_state",
				Help: "Current supervisor state (1 for the active state)",
			},
			[]string{"state"},
		),
		TransformsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedesk_transforms_total",
				Help: "Total image transforms by operation and status",
			},
			[]string{"operation", "status"},
		),
		TransformDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitedesk_transform_duration_seconds",
				Help:    "Image transform duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	if reg == nil {
		return m
	}

	m.ProbesTotal = registerOrReuse(reg, m.ProbesTotal).(*prometheus.CounterVec)
	m.ProbeDuration = registerOrReuse(reg, m.ProbeDuration).(prometheus.Histogram)
	m.ServerUp = registerOrReuse(reg, m.ServerUp).(prometheus.Gauge)
	m.LivenessTransitions = registerOrReuse(reg, m.LivenessTransitions).(*prometheus.CounterVec)
	m.ServerState = registerOrReuse(reg, m.ServerState).(*prometheus.GaugeVec)
	m.TransformsTotal = registerOrReuse(reg, m.TransformsTotal).(*prometheus.CounterVec)
	m.TransformDuration = registerOrReuse(reg, m.TransformDuration).(*prometheus.HistogramVec)

	return m
}

// registerOrReuse registers c with reg, returning the already registered
// collector when an equal one exists. Other registration errors panic.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// RecordProbe records one probe outcome.
func (m *Metrics) RecordProbe(alive bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "dead"
	up := 0.0
	if alive {
		result = "alive"
		up = 1
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(d.Seconds())
	m.ServerUp.Set(up)
}

// RecordTransition records an emitted liveness edge.
func (m *Metrics) RecordTransition(alive bool) {
	if m == nil {
		return
	}
	to := "dead"
	if alive {
		to = "alive"
	}
	m.LivenessTransitions.WithLabelValues(to).Inc()
}

// SetServerState marks state as the active supervisor state.
func (m *Metrics) SetServerState(state string) {
	if m == nil {
		return
	}
	for _, s := range ServerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ServerState.WithLabelValues(s).Set(v)
	}
}

// ObserveTransform records a finished transform.
func (m *Metrics) ObserveTransform(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TransformsTotal.WithLabelValues(op, status).Inc()
	m.TransformDuration.WithLabelValues(op).Observe(d.Seconds())
}
