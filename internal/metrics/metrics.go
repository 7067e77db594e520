package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trust engine.
type Metrics struct {
	// Evaluation pipeline
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	TrustScore         *prometheus.HistogramVec

	// Challenge lifecycle
	ChallengesIssued      *prometheus.CounterVec
	ChallengesInvalidated *prometheus.CounterVec

	// Verification gate
	VerificationsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics. Call once per process;
// promauto registers into the default registry.
func New() *Metrics {
	return &Metrics{
		EvaluationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustengine_evaluations_total",
				Help: "Telemetry evaluations by STRIDE category and resolved MFA level",
			},
			[]string{"category", "mfa_level"},
		),

		EvaluationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustengine_evaluation_duration_seconds",
				Help:    "Duration of the classify-score-resolve pipeline",
				Buckets: prometheus.DefBuckets,
			},
		),

		TrustScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trustengine_trust_score",
				Help:    "Computed trust scores (0-100)",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"category"},
		),

		ChallengesIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustengine_challenges_issued_total",
				Help: "MFA challenges issued by required level",
			},
			[]string{"mfa_level"},
		),

		ChallengesInvalidated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustengine_challenges_invalidated_total",
				Help: "Challenges invalidated before verification",
			},
			[]string{"reason"}, // expired, superseded
		),

		VerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustengine_verifications_total",
				Help: "Verification attempts by outcome",
			},
			[]string{"outcome"}, // verified, invalid_otp, invalid_fingerprint, expired, superseded, no_challenge
		),
	}
}
