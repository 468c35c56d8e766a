package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// DerivePaymentStatus classifies an order from its allocated total.
func DerivePaymentStatus(final, allocated decimal.Decimal) PaymentStatus {
	switch {
	case allocated.GreaterThanOrEqual(final):
		return StatusPaid
	case allocated.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// DeriveOutstanding builds the receivable record of an order given what has been paid.
func DeriveOutstanding(order OrderRef, paid decimal.Decimal, now time.Time) Outstanding {
	left := order.FinalAmount.Sub(paid)
	if left.IsNegative() {
		left = decimal.Zero
	}
	return Outstanding{
		OrgID:             order.OrgID,
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		TotalAmount:       order.FinalAmount,
		PaidAmount:        paid,
		OutstandingAmount: left,
		Status:            DerivePaymentStatus(order.FinalAmount, paid),
		DueDate:           order.DueDate,
		UpdatedAt:         now,
	}
}

// consume moves up to amount from an advance's remaining balance to its used balance.
// It returns the moved amount and the updated advance.
func consume(adv Advance, amount decimal.Decimal, now time.Time) (decimal.Decimal, Advance) {
	take := decimal.Min(amount, adv.RemainingAmount)
	if !take.IsPositive() {
		return decimal.Zero, adv
	}
	adv.UsedAmount = adv.UsedAmount.Add(take)
	adv.RemainingAmount = adv.RemainingAmount.Sub(take)
	if adv.RemainingAmount.IsZero() {
		adv.Status = AdvanceFullyUsed
	}
	adv.UpdatedAt = now
	return take, adv
}
