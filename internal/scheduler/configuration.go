package scheduler

import (
	"time"
)

type Configuration struct {
	// AWS region the bucket and the executor project live in
	Region string
	// Bucket holding the queue, the resource pool and the dead-letter store
	Bucket string
	// CodeBuild project that runs admitted jobs
	ExecutorProject string
	// Number of scheduling attempts before a ticket is dead-lettered
	MaxSchedulingTries int
	// Wall-clock budget for a single pass; the pass exits cleanly once spent
	ExecutionBudget time.Duration
	// Time between passes when running in loop mode
	PassInterval time.Duration
	// Port the metrics endpoint listens on in loop mode; 0 disables it
	MetricsPort int
	// Reservations older than this are removed by the pruneLedger command
	LedgerExpiry time.Duration
	// Per-class instance limits; the built-in table applies when empty
	Quotas []QuotaEntry
}

type QuotaEntry struct {
	ResourceClass string
	JobKind       string
	Limit         int
}

// QuotaTable builds the lookup table from configuration, falling back to the
// built-in limits when no entries are given.
func (c Configuration) QuotaTable() QuotaTable {
	if len(c.Quotas) == 0 {
		return DefaultQuotaTable()
	}
	table := QuotaTable{}
	for _, entry := range c.Quotas {
		kind := JobKind(entry.JobKind)
		if table[kind] == nil {
			table[kind] = map[ResourceClass]int{}
		}
		table[kind][ResourceClass(entry.ResourceClass)] = entry.Limit
	}
	return table
}
