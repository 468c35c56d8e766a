package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/pharmaledger/internal/jobs"
	"github.com/odyssey-erp/pharmaledger/internal/platform/cache"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// ExpiryScanner streams expiry alerts of one organisation.
type ExpiryScanner interface {
	ScanExpiring(ctx context.Context, orgID int64, horizonDays int) iter.Seq2[inventory.ExpiryAlert, error]
}

// Locker serialises work across worker replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// ExpiryScanJob walks near-expiry batches of every configured organisation.
type ExpiryScanJob struct {
	Inventory   ExpiryScanner
	Locker      Locker
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	OrgIDs      []int64
	HorizonDays int
	// Parallel bounds how many organisations are scanned at once.
	Parallel int
}

// ExpiryScanResult summarises one organisation's scan.
type ExpiryScanResult struct {
	OrgID   int64
	Skipped bool
	Levels  map[inventory.AlertLevel]int
}

// Handle executes the scan for the payload's organisations.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans each organisation under its own lock. A held lock skips that organisation.
func (j *ExpiryScanJob) Run(ctx context.Context, payload ExpiryScanPayload) (results []ExpiryScanResult, err error) {
	tracker := j.metrics().Track(TaskExpiryScan)
	defer func() {
		err = tracker.End(err)
	}()

	orgs := payload.OrgIDs
	if len(orgs) == 0 {
		orgs = j.OrgIDs
	}
	horizon := payload.HorizonDays
	if horizon <= 0 {
		horizon = j.HorizonDays
	}
	start := time.Now()
	logger := j.logger().With(slog.Int("horizon_days", horizon), slog.Int("orgs", len(orgs)))
	logger.Info("starting expiry scan")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism(j.Parallel))
	for _, orgID := range orgs {
		g.Go(func() error {
			res, err := j.scanOrg(gctx, orgID, horizon, logger)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		logger.Error("expiry scan failed", slog.Any("error", err))
		return results, err
	}
	logger.Info("completed expiry scan", slog.Duration("duration", time.Since(start)))
	return results, nil
}

func (j *ExpiryScanJob) scanOrg(ctx context.Context, orgID int64, horizon int, logger *slog.Logger) (ExpiryScanResult, error) {
	res := ExpiryScanResult{OrgID: orgID, Levels: make(map[inventory.AlertLevel]int)}
	logger = logger.With(slog.Int64("org_id", orgID))
	err := withLock(ctx, j.Locker, shared.ExpiryScanLockKey(orgID), func(ctx context.Context) error {
		for alert, err := range j.Inventory.ScanExpiring(ctx, orgID, horizon) {
			if err != nil {
				return fmt.Errorf("expiry scan org %d: %w", orgID, err)
			}
			res.Levels[alert.Level]++
			logger.Warn("batch nearing expiry",
				slog.Int64("batch_id", alert.BatchID),
				slog.String("batch_number", alert.BatchNumber),
				slog.String("level", string(alert.Level)),
				slog.Int("days_to_expiry", alert.DaysToExpiry),
				slog.Int64("quantity", alert.CurrentQuantity),
			)
		}
		return nil
	})
	if errors.Is(err, cache.ErrLockHeld) {
		logger.Info("expiry scan skipped, lock held")
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		return res, err
	}
	for level, n := range res.Levels {
		j.metrics().AddExpiryAlerts(string(level), orgID, n)
	}
	return res, nil
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskExpiryScan))
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func withLock(ctx context.Context, locker Locker, key string, fn func(context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	return locker.WithLock(ctx, key, fn)
}

func parallelism(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}
