package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Object key grammar. The bucket layout is an interoperability contract with
// the request producer, the job executor and the ledger cleanup job, so the
// formats below must not change:
//
//	request_tickets/{name}_{timestamp}.json
//	resource_pool/{class}-{kind}/{name}_{timestamp}#{count}-{status}.json
//	dead_letter_queue/{name}_{timestamp}-{reason}.json
//
// Timestamps use TimestampLayout in UTC. Parsers are strict: a key that does
// not match its grammar exactly is rejected, never partially interpreted.
const (
	RequestPrefix    = "request_tickets/"
	ResourcePoolRoot = "resource_pool/"
	DeadLetterPrefix = "dead_letter_queue/"

	TimestampLayout = "2006-01-02-15-04-05"

	keySuffix      = ".json"
	countDelimiter = "#"
)

// ReservationStatus tags a ledger entry. The scheduler writes entries as
// StatusPreparing; the executor flips them to StatusRunning once the job is up.
type ReservationStatus string

const (
	StatusPreparing ReservationStatus = "preparing"
	StatusRunning   ReservationStatus = "running"
)

// FailureReason is recorded in the dead-letter key when a ticket is given up on.
type FailureReason string

const (
	ReasonMaxRetries FailureReason = "maxRetries"
	ReasonTimeout    FailureReason = "timeout"
)

// TicketKey identifies one pending ticket on the request queue.
type TicketKey struct {
	Name      string
	Timestamp time.Time
}

// ParseTicketKey interprets a full object key from the request namespace.
func ParseTicketKey(key string) (TicketKey, error) {
	rest, ok := strings.CutPrefix(key, RequestPrefix)
	if !ok {
		return TicketKey{}, errors.Errorf("ticket key %q does not start with %q", key, RequestPrefix)
	}
	rest, ok = strings.CutSuffix(rest, keySuffix)
	if !ok {
		return TicketKey{}, errors.Errorf("ticket key %q does not end with %q", key, keySuffix)
	}
	i := strings.LastIndex(rest, "_")
	if i <= 0 {
		return TicketKey{}, errors.Errorf("ticket key %q has no name and timestamp separated by %q", key, "_")
	}
	name, stamp := rest[:i], rest[i+1:]
	timestamp, err := time.ParseInLocation(TimestampLayout, stamp, time.UTC)
	if err != nil {
		return TicketKey{}, errors.Wrapf(err, "ticket key %q has a malformed timestamp", key)
	}
	return TicketKey{Name: name, Timestamp: timestamp}, nil
}

func (k TicketKey) String() string {
	return RequestPrefix + k.base() + keySuffix
}

func (k TicketKey) base() string {
	return fmt.Sprintf("%s_%s", k.Name, k.Timestamp.UTC().Format(TimestampLayout))
}

// DeadLetterKey returns the key a ticket is archived under when it exhausts
// its retry or timeout budget.
func (k TicketKey) DeadLetterKey(reason FailureReason) string {
	return fmt.Sprintf("%s%s-%s%s", DeadLetterPrefix, k.base(), reason, keySuffix)
}

// ResourcePoolPrefix returns the ledger namespace for one resource class and
// job kind, e.g. "resource_pool/ml.p3.8xlarge-training/".
func ResourcePoolPrefix(class ResourceClass, kind JobKind) string {
	return fmt.Sprintf("%s%s-%s/", ResourcePoolRoot, class, kind)
}

// LedgerKey identifies one capacity reservation in the resource pool.
type LedgerKey struct {
	ResourceClass ResourceClass
	JobKind       JobKind
	TicketName    string
	Timestamp     time.Time
	Instances     int
	Status        ReservationStatus
}

func (k LedgerKey) String() string {
	base := fmt.Sprintf("%s_%s", k.TicketName, k.Timestamp.UTC().Format(TimestampLayout))
	return fmt.Sprintf("%s%s%s%d-%s%s",
		ResourcePoolPrefix(k.ResourceClass, k.JobKind), base, countDelimiter, k.Instances, k.Status, keySuffix)
}

// ParseLedgerKey interprets a full object key from the resource-pool
// namespace. Keys that do not match the grammar are rejected so that a
// corrupted entry can never contribute a bogus instance count.
func ParseLedgerKey(key string) (LedgerKey, error) {
	rest, ok := strings.CutPrefix(key, ResourcePoolRoot)
	if !ok {
		return LedgerKey{}, errors.Errorf("ledger key %q does not start with %q", key, ResourcePoolRoot)
	}
	pool, entry, ok := strings.Cut(rest, "/")
	if !ok {
		return LedgerKey{}, errors.Errorf("ledger key %q has no pool segment", key)
	}
	i := strings.LastIndex(pool, "-")
	if i <= 0 || i == len(pool)-1 {
		return LedgerKey{}, errors.Errorf("ledger key %q has a malformed pool segment %q", key, pool)
	}
	class, kind := ResourceClass(pool[:i]), JobKind(pool[i+1:])
	if kind != KindTraining && kind != KindInference {
		return LedgerKey{}, errors.Errorf("ledger key %q has unknown job kind %q", key, kind)
	}

	entry, ok = strings.CutSuffix(entry, keySuffix)
	if !ok {
		return LedgerKey{}, errors.Errorf("ledger key %q does not end with %q", key, keySuffix)
	}
	base, counted, ok := strings.Cut(entry, countDelimiter)
	if !ok {
		return LedgerKey{}, errors.Errorf("ledger key %q has no %q delimiter", key, countDelimiter)
	}
	j := strings.LastIndex(base, "_")
	if j <= 0 {
		return LedgerKey{}, errors.Errorf("ledger key %q has no ticket name and timestamp", key)
	}
	name, stamp := base[:j], base[j+1:]
	timestamp, err := time.ParseInLocation(TimestampLayout, stamp, time.UTC)
	if err != nil {
		return LedgerKey{}, errors.Wrapf(err, "ledger key %q has a malformed timestamp", key)
	}

	countStr, statusStr, ok := strings.Cut(counted, "-")
	if !ok {
		return LedgerKey{}, errors.Errorf("ledger key %q has no status tag", key)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		return LedgerKey{}, errors.Errorf("ledger key %q has a malformed instance count %q", key, countStr)
	}
	status := ReservationStatus(statusStr)
	if status != StatusPreparing && status != StatusRunning {
		return LedgerKey{}, errors.Errorf("ledger key %q has unknown status %q", key, statusStr)
	}

	return LedgerKey{
		ResourceClass: class,
		JobKind:       kind,
		TicketName:    name,
		Timestamp:     timestamp,
		Instances:     count,
		Status:        status,
	}, nil
}
