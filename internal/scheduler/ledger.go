package scheduler

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dlctest/ticketscheduler/internal/objectstore"
)

// Ledger tracks reserved capacity per resource class by scanning the
// resource-pool namespace. It holds no state of its own: the object store is
// the single source of truth, so two reads of an unchanged namespace always
// agree.
type Ledger struct {
	store objectstore.Store
}

func NewLedger(store objectstore.Store) *Ledger {
	return &Ledger{store: store}
}

// Utilization sums the reserved instance counts of all live entries for a
// resource class and job kind. Malformed entries are logged and skipped so a
// single corrupted key cannot stall admission for the whole class. The result
// is a best-effort snapshot: the store is eventually consistent and entries
// may be added or removed concurrently by the executor.
func (l *Ledger) Utilization(ctx context.Context, class ResourceClass, kind JobKind) (int, error) {
	prefix := ResourcePoolPrefix(class, kind)
	entries, err := l.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	utilization := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Key, keySuffix) {
			continue
		}
		ledgerKey, err := ParseLedgerKey(entry.Key)
		if err != nil {
			log.WithError(err).Warnf("Skipping malformed ledger entry %s", entry.Key)
			continue
		}
		if ledgerKey.Status == StatusPreparing || ledgerKey.Status == StatusRunning {
			utilization += ledgerKey.Instances
		}
	}
	return utilization, nil
}

// Reserve writes a ledger entry consuming instances from the class's quota on
// behalf of ticket. The entry carries the ticket body so the executor and the
// cleanup job can identify the originating request.
func (l *Ledger) Reserve(ctx context.Context, class ResourceClass, kind JobKind, ticket TicketKey, instances int, body []byte) error {
	key := LedgerKey{
		ResourceClass: class,
		JobKind:       kind,
		TicketName:    ticket.Name,
		Timestamp:     ticket.Timestamp,
		Instances:     instances,
		Status:        StatusPreparing,
	}
	return l.store.Put(ctx, key.String(), body)
}
