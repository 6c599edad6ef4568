package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/dlctest/ticketscheduler/internal/objectstore"
)

// PruneLedger deletes resource-pool entries whose last modification is older
// than expireAfter. The executor removes entries when jobs finish; anything
// this old belongs to a job that died without cleaning up, and would otherwise
// consume quota forever. Returns the number of entries deleted; individual
// delete failures are collected rather than stopping the sweep.
func PruneLedger(ctx context.Context, store objectstore.Store, expireAfter time.Duration, clk clock.Clock) (int, error) {
	entries, err := store.List(ctx, ResourcePoolRoot)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs *multierror.Error
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Key, keySuffix) {
			continue
		}
		age := clk.Now().Sub(entry.LastModified)
		if age < expireAfter {
			continue
		}
		if err := store.Delete(ctx, entry.Key); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		log.Infof("Pruned stale reservation %s (age %s)", entry.Key, age.Round(time.Second))
		deleted++
	}
	return deleted, errs.ErrorOrNil()
}
