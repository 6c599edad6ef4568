package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const NAMESPACE = "ticketscheduler"
const SUBSYSTEM = "scheduler"

type SchedulerMetrics struct {
	// Wall-clock duration of each scheduling pass.
	passDuration prometheus.Histogram
	// Per-ticket outcomes, labelled admitted/requeued/deadLettered/skipped.
	ticketOutcomes *prometheus.CounterVec
	// Passes cut short by the execution budget.
	budgetExhausted prometheus.Counter
}

func NewSchedulerMetrics() *SchedulerMetrics {
	passDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of a scheduling pass.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)

	ticketOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "ticket_outcomes_total",
			Help:      "Number of tickets processed, by outcome.",
		},
		[]string{
			"outcome",
		},
	)

	budgetExhausted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "budget_exhausted_total",
			Help:      "Number of passes that hit the execution budget before draining the queue.",
		},
	)

	prometheus.MustRegister(passDuration, ticketOutcomes, budgetExhausted)

	return &SchedulerMetrics{
		passDuration:    passDuration,
		ticketOutcomes:  ticketOutcomes,
		budgetExhausted: budgetExhausted,
	}
}

// ReportPass records the outcome counts of one completed pass. Safe to call
// on a nil receiver so single-shot runs can skip metrics entirely.
func (m *SchedulerMetrics) ReportPass(result *PassResult, seconds float64) {
	if m == nil {
		return
	}
	m.passDuration.Observe(seconds)
	m.ticketOutcomes.WithLabelValues("admitted").Add(float64(result.Admitted))
	m.ticketOutcomes.WithLabelValues("requeued").Add(float64(result.Requeued))
	m.ticketOutcomes.WithLabelValues("deadLettered").Add(float64(result.DeadLettered))
	m.ticketOutcomes.WithLabelValues("skipped").Add(float64(result.Skipped))
	if result.BudgetExhausted {
		m.budgetExhausted.Inc()
	}
}
