package scheduler

import (
	"time"
)

// admissible reports whether a request fits under the quota. The inequality
// is strict: a request that would land exactly on the limit is rejected,
// keeping one unit of headroom per class.
func admissible(requested, utilization, limit int) bool {
	return utilization+requested < limit
}

// RetryDecision is the outcome of evaluating a rejected ticket.
type RetryDecision struct {
	// Requeue is true if the ticket should go back on the queue with an
	// incremented try counter; otherwise it is dead-lettered with Reason.
	Requeue bool
	Reason  FailureReason
}

// RetryPolicy decides what happens to tickets the scheduler could not admit.
type RetryPolicy struct {
	// MaxTries is the number of scheduling attempts a ticket is allowed
	// before it is given up on.
	MaxTries int
}

// Evaluate applies the retry and timeout budgets to a rejected ticket.
// The try budget is checked before the timeout, so a ticket that has blown
// both is recorded with reason maxRetries.
func (p RetryPolicy) Evaluate(ticket *Ticket, now time.Time) RetryDecision {
	if ticket.SchedulingTries >= p.MaxTries {
		return RetryDecision{Reason: ReasonMaxRetries}
	}
	if now.Sub(ticket.CreatedAt()) > ticket.Timeout() {
		return RetryDecision{Reason: ReasonTimeout}
	}
	return RetryDecision{Requeue: true}
}
