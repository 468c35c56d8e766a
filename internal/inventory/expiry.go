package inventory

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
)

// ScanExpiring yields alerts for stocked batches expiring within horizonDays.
// Each range issues fresh queries, so the sequence can be consumed again later.
// Expired batches whose projection is not yet out of stock get it rebuilt on the way.
func (s *Service) ScanExpiring(ctx context.Context, orgID int64, horizonDays int) iter.Seq2[ExpiryAlert, error] {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return func(yield func(ExpiryAlert, error) bool) {
		now := s.now()
		filter := ExpiryFilter{
			OrgID: orgID,
			Until: truncateDay(now).AddDate(0, 0, horizonDays),
			Limit: s.pageSize,
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(ExpiryAlert{}, err)
				return
			}
			page, err := s.repo.ListExpiringBatches(ctx, filter)
			if err != nil {
				yield(ExpiryAlert{}, fmt.Errorf("inventory: list expiring: %w", err))
				return
			}
			for _, item := range page {
				filter.AfterExpiry, filter.AfterID = item.Batch.ExpiryDate, item.Batch.ID
				current := item.Batch.InitialQuantity
				if item.Status != nil {
					current = item.Status.CurrentQuantity
				}
				if current <= 0 {
					continue
				}
				days := DaysUntil(item.Batch.ExpiryDate, now)
				level, ok := Classify(days, horizonDays)
				if !ok {
					continue
				}
				if level == AlertExpired && (item.Status == nil || !item.Status.OutOfStock) {
					if _, err := s.RebuildStatus(ctx, orgID, item.Batch.ID); err != nil {
						s.logger.Warn("flag expired batch failed", slog.Int64("batch_id", item.Batch.ID), slog.Any("error", err))
						if !yield(ExpiryAlert{}, fmt.Errorf("inventory: flag expired batch %d: %w", item.Batch.ID, err)) {
							return
						}
						continue
					}
				}
				alert := ExpiryAlert{
					BatchID:         item.Batch.ID,
					ProductID:       item.Batch.ProductID,
					BatchNumber:     item.Batch.BatchNumber,
					ExpiryDate:      item.Batch.ExpiryDate,
					DaysToExpiry:    days,
					CurrentQuantity: current,
					Level:           level,
				}
				if !yield(alert, nil) {
					return
				}
			}
			if len(page) < filter.Limit {
				return
			}
		}
	}
}

// CollectExpiring drains ScanExpiring, stopping at the first error.
func (s *Service) CollectExpiring(ctx context.Context, orgID int64, horizonDays int) ([]ExpiryAlert, error) {
	var alerts []ExpiryAlert
	for alert, err := range s.ScanExpiring(ctx, orgID, horizonDays) {
		if err != nil {
			return alerts, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
