package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeSingular labels objective evaluations that fell back to the singular penalty.
	OutcomeSingular = "singular"
	// OutcomeCancelled labels design runs stopped by a caller.
	OutcomeCancelled = "cancelled"
)

const namespace = "experiment_design"

var (
	simulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Simulator adapter invocations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	objectiveEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objective_evaluations_total",
			Help:      "Identifiability objective evaluations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	searchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_seconds",
			Help:      "Protocol search wall time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	searchBestScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_best_score",
			Help:      "Best objective score of the most recent protocol search.",
		},
	)

	inferenceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "MCMC inference wall time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	acceptanceRate = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mcmc_acceptance_rate",
			Help:      "Acceptance rate of completed MCMC chains.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.1, 10),
		},
	)

	designRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "design_runs_total",
			Help:      "Finished design runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	designRunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "design_runs_active",
			Help:      "Design runs currently executing.",
		},
	)
)

// Register attaches experiment-design collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		simulationsTotal,
		objectiveEvaluationsTotal,
		searchDurationSeconds,
		searchBestScore,
		inferenceDurationSeconds,
		acceptanceRate,
		designRunsTotal,
		designRunsActive,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSimulation counts one simulator call.
func ObserveSimulation(err error) {
	simulationsTotal.WithLabelValues(outcomeOf(err)).Inc()
}

// ObserveObjective counts one objective evaluation.
func ObserveObjective(singular bool, err error) {
	label := outcomeOf(err)
	if err == nil && singular {
		label = OutcomeSingular
	}
	objectiveEvaluationsTotal.WithLabelValues(label).Inc()
}

// ObserveSearch records a finished protocol search.
func ObserveSearch(duration time.Duration, bestScore float64) {
	searchDurationSeconds.Observe(nonNegative(duration).Seconds())
	searchBestScore.Set(bestScore)
}

// ObserveInference records a finished MCMC chain.
func ObserveInference(duration time.Duration, acceptance float64) {
	inferenceDurationSeconds.Observe(nonNegative(duration).Seconds())
	acceptanceRate.Observe(acceptance)
}

// RunStarted marks a design run as executing.
func RunStarted() {
	designRunsActive.Inc()
}

// RunFinished records the outcome of a design run started with RunStarted.
func RunFinished(outcome string) {
	designRunsActive.Dec()
	switch outcome {
	case OutcomeSuccess, OutcomeCancelled:
	default:
		outcome = OutcomeError
	}
	designRunsTotal.WithLabelValues(outcome).Inc()
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
