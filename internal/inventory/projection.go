package inventory

import "time"

// ReservingStatuses lists order states whose lines hold stock against a batch.
var ReservingStatuses = []string{"draft"}

// Available clamps current minus reserved at zero.
func Available(current, reserved int64) int64 {
	if avail := current - reserved; avail > 0 {
		return avail
	}
	return 0
}

// Project derives the stock status of a batch from its ledger totals.
func Project(batch Batch, delta, reserved int64, th Thresholds, lastTx *time.Time, now time.Time) Status {
	current := batch.InitialQuantity + delta
	available := Available(current, reserved)
	return Status{
		OrgID:             batch.OrgID,
		BatchID:           batch.ID,
		CurrentQuantity:   current,
		ReservedQuantity:  reserved,
		AvailableQuantity: available,
		OutOfStock:        current <= 0 || IsExpired(batch, now),
		LowStock:          available > 0 && available <= th.LowStock,
		NeedsReorder:      available <= th.ReorderLevel,
		LastTransactionAt: lastTx,
		UpdatedAt:         now,
	}
}

// IsExpired reports whether the batch expiry date is on or before now's date.
func IsExpired(batch Batch, now time.Time) bool {
	return DaysUntil(batch.ExpiryDate, now) <= 0
}

// DaysUntil counts whole calendar days from now to the expiry date, in UTC.
func DaysUntil(expiry, now time.Time) int {
	e := truncateDay(expiry)
	n := truncateDay(now)
	return int(e.Sub(n).Hours() / 24)
}

// Classify maps days-to-expiry onto an alert level. ok is false outside the horizon.
func Classify(days, horizonDays int) (AlertLevel, bool) {
	switch {
	case days <= 0:
		return AlertExpired, true
	case days <= 7:
		return AlertCritical, true
	case days <= horizonDays:
		return AlertWarning, true
	default:
		return "", false
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
