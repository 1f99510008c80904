package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the support desk.
type Metrics struct {
	registry *prometheus.Registry

	// Orchestration metrics
	TurnsTotal       *prometheus.CounterVec
	RunFailuresTotal *prometheus.CounterVec
	CycleSteps       *prometheus.HistogramVec

	// Approval metrics
	ApprovalsRequestedTotal *prometheus.CounterVec
	ApprovalsResolvedTotal  *prometheus.CounterVec

	// Retrieval metrics
	RetrievalSearchesTotal prometheus.Counter
	RetrievalTimeoutsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turns_total",
				Help: "Total number of handled turns by agent and outcome kind",
			},
			[]string{"agent", "kind"},
		),
		RunFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "run_failures_total",
				Help: "Total number of failed specialist runs by agent and reason",
			},
			[]string{"agent", "reason"},
		),
		CycleSteps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "run_cycle_steps",
				Help:    "Decide/act/observe cycles used per specialist run",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 12, 16},
			},
			[]string{"agent"},
		),

		ApprovalsRequestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_requested_total",
				Help: "Total number of tool calls suspended for human approval",
			},
			[]string{"tool"},
		),
		ApprovalsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_resolved_total",
				Help: "Total number of approval decisions by verdict",
			},
			[]string{"verdict"},
		),

		RetrievalSearchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_searches_total",
				Help: "Total number of knowledge retrieval searches",
			},
		),
		RetrievalTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_timeouts_total",
				Help: "Total number of retrieval searches that hit the timeout",
			},
		),
	}

	m.registerMetrics()
	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.TurnsTotal)
	m.registry.MustRegister(m.RunFailuresTotal)
	m.registry.MustRegister(m.CycleSteps)
	m.registry.MustRegister(m.ApprovalsRequestedTotal)
	m.registry.MustRegister(m.ApprovalsResolvedTotal)
	m.registry.MustRegister(m.RetrievalSearchesTotal)
	m.registry.MustRegister(m.RetrievalTimeoutsTotal)
}

// TurnHandled counts one concluded turn.
func (m *Metrics) TurnHandled(agent string, kind string) {
	m.TurnsTotal.WithLabelValues(agent, kind).Inc()
}

// ApprovalRequested counts one suspension.
func (m *Metrics) ApprovalRequested(tool string) {
	m.ApprovalsRequestedTotal.WithLabelValues(tool).Inc()
}

// ApprovalResolved counts one reviewer decision.
func (m *Metrics) ApprovalResolved(approved bool) {
	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	m.ApprovalsResolvedTotal.WithLabelValues(verdict).Inc()
}

// RunFailed counts one terminal failure.
func (m *Metrics) RunFailed(agent string, reason string) {
	m.RunFailuresTotal.WithLabelValues(agent, reason).Inc()
}

// RetrievalSearched counts one knowledge search.
func (m *Metrics) RetrievalSearched() {
	m.RetrievalSearchesTotal.Inc()
}

// RetrievalTimedOut counts one search that hit its deadline.
func (m *Metrics) RetrievalTimedOut() {
	m.RetrievalTimeoutsTotal.Inc()
}

// CyclesObserved records how many cycles a run consumed.
func (m *Metrics) CyclesObserved(agent string, steps int) {
	m.CycleSteps.WithLabelValues(agent).Observe(float64(steps))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
