package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/pharmaledger/internal/jobs"
	"github.com/odyssey-erp/pharmaledger/internal/platform/cache"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// StatusRebuilder recomputes every projection of an organisation.
type StatusRebuilder interface {
	RebuildAll(ctx context.Context, orgID int64) (int, error)
}

// StatusRebuildJob replays the ledger into batch projections overnight.
type StatusRebuildJob struct {
	Inventory StatusRebuilder
	Locker    Locker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	OrgIDs    []int64
	Parallel  int
}

// Handle executes the rebuild for the payload's organisations.
func (j *StatusRebuildJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("status rebuild: handler not configured")
	}
	var payload StatusRebuildPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return j.Run(ctx, payload)
}

// Run rebuilds each organisation under its own lock.
func (j *StatusRebuildJob) Run(ctx context.Context, payload StatusRebuildPayload) (err error) {
	tracker := j.metrics().Track(TaskStatusRebuild)
	defer func() {
		err = tracker.End(err)
	}()

	orgs := payload.OrgIDs
	if len(orgs) == 0 {
		orgs = j.OrgIDs
	}
	start := time.Now()
	logger := j.logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism(j.Parallel))
	for _, orgID := range orgs {
		g.Go(func() error {
			var rebuilt int
			err := withLock(gctx, j.Locker, shared.StatusRebuildLockKey(orgID), func(ctx context.Context) error {
				var err error
				rebuilt, err = j.Inventory.RebuildAll(ctx, orgID)
				return err
			})
			j.metrics().AddRebuilt(orgID, rebuilt)
			if errors.Is(err, cache.ErrLockHeld) {
				logger.Info("status rebuild skipped, lock held", slog.Int64("org_id", orgID))
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("rebuilt batch status", slog.Int64("org_id", orgID), slog.Int("batches", rebuilt))
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		logger.Error("status rebuild failed", slog.Any("error", err))
		return err
	}
	logger.Info("completed status rebuild", slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *StatusRebuildJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatusRebuild))
	}
	return slog.Default().With(slog.String("job", TaskStatusRebuild))
}

func (j *StatusRebuildJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
