package application

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	signerTransitions   *prometheus.CounterVec
	sessionsTotal       *prometheus.CounterVec
	participantOutcomes *prometheus.CounterVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		signerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "signer_state_transitions_total",
			Help:      "Number of signer state transitions by target state.",
		}, []string{"state"})
		sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "signing_sessions_total",
			Help:      "Number of signing sessions by final status.",
		}, []string{"status"})
		participantOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "participant_outcomes_total",
			Help:      "Number of participant outcomes by kind.",
		}, []string{"outcome"})
	})
}
