package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects core counters for the remediation pipeline.
type Metrics struct {
	runs        *prometheus.CounterVec
	edits       *prometheus.CounterVec
	heals       *prometheus.CounterVec
	llmRequests *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seopilot_runs_total",
		Help: "Total runs by status transition.",
	}, []string{"status"})
	edits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seopilot_edits_total",
		Help: "Total file edits by result.",
	}, []string{"result"})
	heals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seopilot_heal_attempts_total",
		Help: "Total self-heal attempts by outcome.",
	}, []string{"outcome"})
	llmRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seopilot_llm_requests_total",
		Help: "Total model requests by kind.",
	}, []string{"kind"})

	runs = registerCounterVec(registerer, runs)
	edits = registerCounterVec(registerer, edits)
	heals = registerCounterVec(registerer, heals)
	llmRequests = registerCounterVec(registerer, llmRequests)

	return &Metrics{
		runs:        runs,
		edits:       edits,
		heals:       heals,
		llmRequests: llmRequests,
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncRun(status string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEdit(result string) {
	if m == nil || m.edits == nil {
		return
	}
	m.edits.WithLabelValues(result).Inc()
}

func (m *Metrics) IncHeal(outcome string) {
	if m == nil || m.heals == nil {
		return
	}
	m.heals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLLMRequest(kind string) {
	if m == nil || m.llmRequests == nil {
		return
	}
	m.llmRequests.WithLabelValues(kind).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}
