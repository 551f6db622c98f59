package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker telemetry, labelled by the logical upstream (yookassa, telegram).
var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "amoria",
			Name:      "breaker_state",
			Help:      "Breaker state per upstream: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amoria",
			Name:      "breaker_transition_total",
			Help:      "Breaker state transitions.",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amoria",
			Name:      "breaker_open_total",
			Help:      "Times a breaker tripped open.",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
