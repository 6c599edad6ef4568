package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/dlctest/ticketscheduler/internal/common/schedulererrors"
	"github.com/dlctest/ticketscheduler/internal/objectstore"
)

// Scheduler drains the request queue in timestamp order and admits tickets
// into execution when their resource class has quota headroom. It assumes it
// is the only active pass: two concurrent passes can both read stale
// utilization and jointly over-admit. Mutual exclusion, if needed, must be
// provided by whatever invokes the pass.
type Scheduler struct {
	// Durable store holding the queue, the ledger and the dead-letter store
	store objectstore.Store
	// Computes per-class utilization and writes reservations
	ledger *Ledger
	// Starts admitted jobs on the external execution service
	trigger ExecutionTrigger
	// Static per-class instance limits
	quotas QuotaTable
	// Decides requeue vs dead-letter for rejected tickets
	retryPolicy RetryPolicy
	// Wall-clock budget for one pass; checked before each ticket
	executionBudget time.Duration
	// Used for all timing decisions. Injected so tests can use a fake
	clock clock.Clock
	// Optional pass metrics; nil disables reporting
	metrics *SchedulerMetrics
}

func NewScheduler(
	store objectstore.Store,
	trigger ExecutionTrigger,
	quotas QuotaTable,
	retryPolicy RetryPolicy,
	executionBudget time.Duration,
) *Scheduler {
	return &Scheduler{
		store:           store,
		ledger:          NewLedger(store),
		trigger:         trigger,
		quotas:          quotas,
		retryPolicy:     retryPolicy,
		executionBudget: executionBudget,
		clock:           clock.RealClock{},
	}
}

// WithMetrics enables pass metrics reporting.
func (s *Scheduler) WithMetrics(metrics *SchedulerMetrics) *Scheduler {
	s.metrics = metrics
	return s
}

// PassResult summarises one sweep over the queue.
type PassResult struct {
	Admitted     int
	Requeued     int
	DeadLettered int
	Skipped      int
	// BudgetExhausted is true if the pass stopped before visiting every
	// ticket. Unvisited tickets stay on the queue untouched; the next pass
	// picks them up.
	BudgetExhausted bool
}

// RunPass performs one scheduling sweep. Per-ticket failures never abort the
// pass; a quota-table miss or an unreachable store does. The pass also stops
// cleanly once the execution budget is spent or ctx is cancelled.
func (s *Scheduler) RunPass(ctx context.Context) (*PassResult, error) {
	start := s.clock.Now()
	passLog := log.WithField("pass", uuid.New().String())

	result := &PassResult{}
	tickets, err := s.pendingTickets(ctx, passLog, result)
	if err != nil {
		return nil, err
	}
	passLog.Infof("Draining %d pending tickets", len(tickets))

	for _, key := range tickets {
		select {
		case <-ctx.Done():
			result.BudgetExhausted = true
		default:
		}
		if !result.BudgetExhausted && s.clock.Since(start) > s.executionBudget {
			result.BudgetExhausted = true
		}
		if result.BudgetExhausted {
			passLog.Warn("Execution budget exhausted; remaining tickets stay on the queue")
			break
		}
		if err := s.processTicket(ctx, passLog, key, result); err != nil {
			return result, err
		}
	}

	passLog.Infof("Pass complete: %d admitted, %d requeued, %d dead-lettered, %d skipped",
		result.Admitted, result.Requeued, result.DeadLettered, result.Skipped)
	s.metrics.ReportPass(result, s.clock.Since(start).Seconds())
	return result, nil
}

// pendingTickets lists the request namespace and returns well-formed ticket
// keys sorted ascending by their encoded timestamp, ties broken by
// lexicographic key comparison so the order is deterministic regardless of
// how the store happens to return the listing.
func (s *Scheduler) pendingTickets(ctx context.Context, passLog *log.Entry, result *PassResult) ([]TicketKey, error) {
	objects, err := s.store.List(ctx, RequestPrefix)
	if err != nil {
		return nil, &schedulererrors.ErrStoreUnavailable{Operation: "list", Message: err.Error()}
	}
	tickets := make([]TicketKey, 0, len(objects))
	for _, object := range objects {
		if !strings.HasSuffix(object.Key, keySuffix) {
			continue
		}
		key, err := ParseTicketKey(object.Key)
		if err != nil {
			passLog.WithError(err).Warnf("Skipping malformed ticket key %s", object.Key)
			result.Skipped++
			continue
		}
		tickets = append(tickets, key)
	}
	slices.SortFunc(tickets, func(a, b TicketKey) bool {
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.String() < b.String()
	})
	return tickets, nil
}

// processTicket takes one ticket through classification, admission and, on
// rejection, the retry policy. The returned error is non-nil only for
// failures that must abort the pass.
func (s *Scheduler) processTicket(ctx context.Context, passLog *log.Entry, key TicketKey, result *PassResult) error {
	ticketLog := passLog.WithField("ticket", key.String())

	body, err := s.store.Get(ctx, key.String())
	if err != nil {
		ticketLog.WithError(err).Warn("Failed to read ticket; leaving it on the queue for the next pass")
		result.Skipped++
		return nil
	}
	ticket, err := UnmarshalTicket(key.String(), body)
	if err != nil {
		ticketLog.WithError(err).Warn("Skipping malformed ticket")
		result.Skipped++
		return nil
	}
	class, kind, err := Classify(ticket.ImageURI)
	if err != nil {
		ticketLog.WithError(err).Warn("Skipping ticket with unclassifiable image")
		result.Skipped++
		return nil
	}

	limit, err := s.quotas.Limit(class, kind)
	if err != nil {
		// Misconfiguration: every ticket for this class would fail the same way.
		return err
	}
	utilization, err := s.ledger.Utilization(ctx, class, kind)
	if err != nil {
		ticketLog.WithError(err).Warn("Failed to read resource pool; treating ticket as rejected")
		return s.reject(ctx, ticketLog, key, ticket, result)
	}

	if !admissible(ticket.Instances, utilization, limit) {
		ticketLog.Infof("Insufficient headroom in %s-%s: %d in use + %d requested, limit %d",
			class, kind, utilization, ticket.Instances, limit)
		return s.reject(ctx, ticketLog, key, ticket, result)
	}

	err = s.trigger.Trigger(ctx, JobDescriptor{
		ImageURI:       ticket.ImageURI,
		BuildContext:   ticket.BuildContext,
		ReturnQueueURL: ticket.ReturnQueueURL,
		TicketKey:      key.String(),
		Instances:      ticket.Instances,
	})
	if err != nil {
		ticketLog.WithError(err).Warn("Failed to trigger execution; treating ticket as rejected")
		return s.reject(ctx, ticketLog, key, ticket, result)
	}

	// Reserve before deleting the ticket. A crash in between leaves the
	// ticket pending alongside a phantom reservation, which is recoverable;
	// the reverse order could lose the job with no record at all.
	if err := s.ledger.Reserve(ctx, class, kind, key, ticket.Instances, body); err != nil {
		ticketLog.WithError(err).Error("Execution triggered but reservation failed; leaving ticket on the queue")
		result.Admitted++
		return nil
	}
	if err := s.store.Delete(ctx, key.String()); err != nil {
		ticketLog.WithError(err).Error("Failed to remove admitted ticket from the queue; it may be admitted again")
	}
	ticketLog.Infof("Admitted %d instances of %s-%s (utilization %d, limit %d)",
		ticket.Instances, class, kind, utilization, limit)
	result.Admitted++
	return nil
}

// reject applies the retry policy to a ticket that could not be admitted.
func (s *Scheduler) reject(ctx context.Context, ticketLog *log.Entry, key TicketKey, ticket *Ticket, result *PassResult) error {
	decision := s.retryPolicy.Evaluate(ticket, s.clock.Now())
	if decision.Requeue {
		requeued := *ticket
		requeued.SchedulingTries++
		body, err := requeued.Marshal()
		if err != nil {
			ticketLog.WithError(err).Warn("Failed to marshal requeued ticket; leaving it unchanged")
			result.Skipped++
			return nil
		}
		if err := s.store.Put(ctx, key.String(), body); err != nil {
			// The ticket is still on the queue with its old try count.
			ticketLog.WithError(err).Warn("Failed to rewrite requeued ticket")
		}
		ticketLog.Infof("Requeued with %d tries", requeued.SchedulingTries)
		result.Requeued++
		return nil
	}

	// Write the dead-letter record before removing the ticket so a crash in
	// between can never drop the request without a trace.
	body, err := ticket.Marshal()
	if err != nil {
		ticketLog.WithError(err).Warn("Failed to marshal dead-letter record; leaving ticket on the queue")
		result.Skipped++
		return nil
	}
	if err := s.store.Put(ctx, key.DeadLetterKey(decision.Reason), body); err != nil {
		ticketLog.WithError(err).Warn("Failed to write dead-letter record; leaving ticket on the queue")
		result.Skipped++
		return nil
	}
	if err := s.store.Delete(ctx, key.String()); err != nil {
		ticketLog.WithError(err).Warn("Failed to remove dead-lettered ticket from the queue")
	}
	ticketLog.Infof("Dead-lettered with reason %s", decision.Reason)
	result.DeadLettered++
	return nil
}
