package llm

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Provider Manager's prometheus collectors (spec §2.2
// domain-stack wiring): counters of succeeded and failed provider calls.
// Each Manager owns its own registry-free
// collectors so multiple managers (e.g. in tests) never collide on
// prometheus' default registry.
type Metrics struct {
	callsSucceeded *prometheus.CounterVec
	callsFailed    *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		callsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_provider_calls_succeeded_total",
			Help: "Number of successful LLM provider calls, by provider and agent.",
		}, []string{"provider", "agent"}),
		callsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_provider_calls_failed_total",
			Help: "Number of failed LLM provider calls, by provider and failure kind.",
		}, []string{"provider", "kind"}),
	}
}

// Register adds this Manager's collectors to reg. Nothing in this repository
// calls it; the status HTTP surface does not expose these counters.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(m.callsSucceeded, m.callsFailed)
}
