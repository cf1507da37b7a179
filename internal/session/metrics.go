package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "immersive",
		Name:      "transitions_total",
		Help:      "Session state transitions by source and target state.",
	}, []string{"from", "to"})
	metricEntryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "immersive",
		Name:      "entry_failures_total",
		Help:      "Failed immersive entry attempts by trigger.",
	}, []string{"trigger"})
	metricFeedbackPrompts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "immersive",
		Name:      "feedback_prompts_total",
		Help:      "Feedback requests shown after leaving immersive mode.",
	})
	metricInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "immersive",
		Name:      "invariant_violations_total",
		Help:      "Session invariant violations recovered by resetting to flat.",
	})
	metricPrompts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "immersive",
		Name:      "prompts_total",
		Help:      "Consent and DOFF overlays shown, by kind.",
	}, []string{"kind"})
	metricState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "immersive",
		Name:      "state",
		Help:      "1 for the current session state, 0 otherwise.",
	}, []string{"state"})
)

func recordState(s FSMState) {
	for _, v := range []FSMState{StateFlat, StateEntering, StateBrowsing, StatePresenting, StateExitPrompt} {
		val := 0.0
		if v == s {
			val = 1
		}
		metricState.WithLabelValues(string(v)).Set(val)
	}
}
