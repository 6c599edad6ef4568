package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/dlctest/ticketscheduler/internal/common/app"
	"github.com/dlctest/ticketscheduler/internal/objectstore"
)

// Run sets up the scheduler against AWS and runs it. In single-shot mode it
// performs exactly one pass (the shape expected when invoked on a timer by an
// external trigger); otherwise it keeps running passes every PassInterval
// until a SIGTERM is received, with the metrics endpoint up.
func Run(config Configuration, once bool) error {
	ctx := app.CreateContextWithShutdown()

	store, trigger, err := awsCollaborators(ctx, config)
	if err != nil {
		return err
	}
	sched := NewScheduler(
		store,
		trigger,
		config.QuotaTable(),
		RetryPolicy{MaxTries: config.MaxSchedulingTries},
		config.ExecutionBudget,
	)

	if once {
		_, err := sched.RunPass(ctx)
		return err
	}

	sched.WithMetrics(NewSchedulerMetrics())
	if config.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: fmt.Sprintf(":%d", config.MetricsPort), Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		defer server.Close()
	}

	ticker := time.NewTicker(config.PassInterval)
	defer ticker.Stop()
	for {
		if _, err := sched.RunPass(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunPrune removes stale reservations from the resource pool.
func RunPrune(config Configuration) error {
	ctx := app.CreateContextWithShutdown()

	store, _, err := awsCollaborators(ctx, config)
	if err != nil {
		return err
	}
	start := time.Now()
	deleted, err := PruneLedger(ctx, store, config.LedgerExpiry, clock.RealClock{})
	if err != nil {
		return err
	}
	log.Infof("Pruned %d stale reservations in %s", deleted, time.Now().Sub(start))
	return nil
}

func awsCollaborators(ctx context.Context, config Configuration) (objectstore.Store, ExecutionTrigger, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	store := objectstore.NewS3Store(s3.NewFromConfig(awsCfg), config.Bucket)
	trigger := NewCodeBuildTrigger(codebuild.NewFromConfig(awsCfg), config.ExecutorProject, config.Region)
	return store, trigger, nil
}
