package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/challan"
	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
)

// view is the transactional handle. One value serves every module.
type view struct {
	d      *data
	failOn map[string]error
}

var (
	_ inventory.TxRepository = (*view)(nil)
	_ payments.TxRepository  = (*view)(nil)
	_ discounts.TxRepository = (*view)(nil)
	_ challan.TxRepository   = (*view)(nil)
	_ orders.TxRepository    = (*view)(nil)
)

func (v *view) fail(op string) error {
	return v.failOn[op]
}

func (v *view) Inventory() inventory.TxRepository { return v }
func (v *view) Discounts() discounts.TxRepository { return v }
func (v *view) Payments() payments.TxRepository   { return v }

// inventory

func (v *view) GetBatch(_ context.Context, orgID, batchID int64) (inventory.Batch, error) {
	b, ok := v.d.batches[batchID]
	if !ok || b.OrgID != orgID {
		return inventory.Batch{}, inventory.ErrBatchNotFound
	}
	return b, nil
}

func (v *view) GetStatusForUpdate(_ context.Context, orgID, batchID int64) (inventory.Status, error) {
	st, ok := v.d.statuses[batchID]
	if !ok || st.OrgID != orgID {
		return inventory.Status{OrgID: orgID, BatchID: batchID}, inventory.ErrStatusNotFound
	}
	return st, nil
}

func (v *view) UpsertStatus(_ context.Context, st inventory.Status) error {
	if err := v.fail("UpsertStatus"); err != nil {
		return err
	}
	v.d.statuses[st.BatchID] = st
	return nil
}

func (v *view) InsertTransaction(_ context.Context, t inventory.Transaction) (int64, error) {
	if err := v.fail("InsertTransaction"); err != nil {
		return 0, err
	}
	t.ID = v.d.next()
	v.d.transactions = append(v.d.transactions, t)
	return t.ID, nil
}

func (v *view) SumQuantityChange(_ context.Context, orgID, batchID int64) (int64, *time.Time, error) {
	var (
		sum  int64
		last *time.Time
	)
	for _, t := range v.d.transactions {
		if t.OrgID != orgID || t.BatchID != batchID {
			continue
		}
		sum += t.QuantityChange
		if last == nil || t.CreatedAt.After(*last) {
			at := t.CreatedAt
			last = &at
		}
	}
	return sum, last, nil
}

func (v *view) SumReservedQuantity(_ context.Context, orgID, batchID int64, statuses []string) (int64, error) {
	var sum int64
	for _, o := range v.d.orders {
		if o.OrgID != orgID || !slices.Contains(statuses, string(o.Status)) {
			continue
		}
		for _, l := range o.Lines {
			if l.BatchID == batchID {
				sum += l.Quantity
			}
		}
	}
	return sum, nil
}

// orders

func (v *view) InsertOrder(_ context.Context, o orders.Order) (int64, error) {
	if err := v.fail("InsertOrder"); err != nil {
		return 0, err
	}
	o.ID = v.d.next()
	o.Lines = nil
	v.d.orders[o.ID] = o
	return o.ID, nil
}

func (v *view) InsertOrderLine(_ context.Context, l orders.Line) (int64, error) {
	if err := v.fail("InsertOrderLine"); err != nil {
		return 0, err
	}
	o, ok := v.d.orders[l.OrderID]
	if !ok {
		return 0, orders.ErrOrderNotFound
	}
	l.ID = v.d.next()
	o.Lines = append(slices.Clone(o.Lines), l)
	v.d.orders[o.ID] = o
	return l.ID, nil
}

func (v *view) UpdateOrderAmounts(_ context.Context, in orders.Order) error {
	if err := v.fail("UpdateOrderAmounts"); err != nil {
		return err
	}
	o, ok := v.d.orders[in.ID]
	if !ok || o.OrgID != in.OrgID {
		return orders.ErrOrderNotFound
	}
	o.GrossAmount, o.DiscountAmount, o.FinalAmount = in.GrossAmount, in.DiscountAmount, in.FinalAmount
	v.d.orders[o.ID] = o
	return nil
}

// payments

func (v *view) GetOrderForPayment(_ context.Context, orgID, orderID int64) (payments.OrderRef, error) {
	o, ok := v.d.orders[orderID]
	if !ok || o.OrgID != orgID {
		return payments.OrderRef{}, payments.ErrOrderNotFound
	}
	return orderRef(o), nil
}

func (v *view) SumAllocatedForOrder(_ context.Context, orgID, orderID int64) (decimal.Decimal, error) {
	return sumAllocated(v.d, orgID, orderID), nil
}

func (v *view) UpdateOrderPaymentStatus(_ context.Context, orgID, orderID int64, status payments.PaymentStatus) error {
	o, ok := v.d.orders[orderID]
	if !ok || o.OrgID != orgID {
		return payments.ErrOrderNotFound
	}
	o.PaymentStatus = status
	v.d.orders[orderID] = o
	return nil
}

func (v *view) InsertPayment(_ context.Context, p payments.Payment) (int64, error) {
	if err := v.fail("InsertPayment"); err != nil {
		return 0, err
	}
	p.ID = v.d.next()
	v.d.payments = append(v.d.payments, p)
	return p.ID, nil
}

func (v *view) GetPayment(_ context.Context, orgID, paymentID int64) (payments.Payment, error) {
	for _, p := range v.d.payments {
		if p.ID == paymentID && p.OrgID == orgID {
			return p, nil
		}
	}
	return payments.Payment{}, payments.ErrPaymentNotFound
}

func (v *view) InsertAllocation(_ context.Context, a payments.Allocation) (int64, error) {
	if err := v.fail("InsertAllocation"); err != nil {
		return 0, err
	}
	a.ID = v.d.next()
	v.d.allocations = append(v.d.allocations, a)
	return a.ID, nil
}

func (v *view) ListAllocationsByPayment(_ context.Context, orgID, paymentID int64) ([]payments.Allocation, error) {
	var out []payments.Allocation
	for _, a := range v.d.allocations {
		if a.OrgID == orgID && a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v *view) InsertAdvance(_ context.Context, a payments.Advance) (int64, error) {
	if err := v.fail("InsertAdvance"); err != nil {
		return 0, err
	}
	a.ID = v.d.next()
	v.d.advances = append(v.d.advances, a)
	return a.ID, nil
}

func (v *view) ListActiveAdvancesForUpdate(_ context.Context, orgID, customerID int64) ([]payments.Advance, error) {
	var out []payments.Advance
	for _, a := range v.d.advances {
		if a.OrgID == orgID && a.CustomerID == customerID && a.Status == payments.AdvanceActive && a.RemainingAmount.IsPositive() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v *view) UpdateAdvance(_ context.Context, a payments.Advance) error {
	if err := v.fail("UpdateAdvance"); err != nil {
		return err
	}
	for i := range v.d.advances {
		if v.d.advances[i].ID == a.ID {
			v.d.advances[i] = a
			return nil
		}
	}
	return payments.ErrPaymentNotFound
}

func (v *view) InsertAdvanceUsage(_ context.Context, u payments.AdvanceUsage) (int64, error) {
	u.ID = v.d.next()
	v.d.usages = append(v.d.usages, u)
	return u.ID, nil
}

func (v *view) GetCustomerCreditForUpdate(_ context.Context, orgID, customerID int64) (payments.CustomerCredit, error) {
	c, ok := v.d.credits[customerID]
	if !ok || c.OrgID != orgID {
		return payments.CustomerCredit{}, payments.ErrCreditNotFound
	}
	return c, nil
}

func (v *view) UpdateCustomerCreditUsed(_ context.Context, orgID, customerID int64, used decimal.Decimal) error {
	c, ok := v.d.credits[customerID]
	if !ok || c.OrgID != orgID {
		return payments.ErrCreditNotFound
	}
	c.CreditUsed = used
	v.d.credits[customerID] = c
	return nil
}

func (v *view) UpsertOutstanding(_ context.Context, o payments.Outstanding) error {
	if err := v.fail("UpsertOutstanding"); err != nil {
		return err
	}
	v.d.outstanding[o.OrderID] = o
	return nil
}

// discounts

func (v *view) GetCustomer(_ context.Context, orgID, customerID int64) (discounts.Customer, error) {
	c, ok := v.d.customers[customerID]
	if !ok || c.OrgID != orgID {
		return discounts.Customer{}, discounts.ErrCustomerNotFound
	}
	return c, nil
}

func (v *view) ListActiveSchemes(_ context.Context, orgID int64, at time.Time) ([]discounts.Scheme, error) {
	var out []discounts.Scheme
	for _, s := range v.d.schemes {
		if s.OrgID != orgID || at.Before(s.ValidFrom) || at.After(s.ValidUntil) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b discounts.Scheme) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (v *view) GetCustomerUsage(_ context.Context, orgID, schemeID, customerID int64) (discounts.CustomerUsage, error) {
	u, ok := v.d.enrolment[usageKey{schemeID, customerID}]
	if !ok || u.OrgID != orgID {
		return discounts.CustomerUsage{}, discounts.ErrUsageNotFound
	}
	return u, nil
}

func (v *view) InsertAppliedDiscount(_ context.Context, a discounts.Applied) (int64, error) {
	if err := v.fail("InsertAppliedDiscount"); err != nil {
		return 0, err
	}
	a.ID = v.d.next()
	v.d.applied = append(v.d.applied, a)
	return a.ID, nil
}

func (v *view) IncrementSchemeUsage(_ context.Context, orgID, schemeID int64) error {
	s, ok := v.d.schemes[schemeID]
	if !ok || s.OrgID != orgID {
		return nil
	}
	s.UsageCount++
	v.d.schemes[schemeID] = s
	return nil
}

func (v *view) IncrementCustomerUsage(_ context.Context, orgID, schemeID, customerID int64) error {
	k := usageKey{schemeID, customerID}
	u, ok := v.d.enrolment[k]
	if !ok {
		u = discounts.CustomerUsage{OrgID: orgID, SchemeID: schemeID, CustomerID: customerID}
	}
	u.UsageCount++
	v.d.enrolment[k] = u
	return nil
}

// challan

func (v *view) GetOrderForChallan(_ context.Context, orgID, orderID int64) (challan.OrderForChallan, error) {
	o, ok := v.d.orders[orderID]
	if !ok || o.OrgID != orgID {
		return challan.OrderForChallan{}, challan.ErrOrderNotFound
	}
	out := challan.OrderForChallan{ID: o.ID, OrgID: o.OrgID, Status: string(o.Status)}
	for _, l := range o.Lines {
		ref := challan.OrderLineRef{ID: l.ID, BatchID: l.BatchID, ProductID: l.ProductID, Quantity: l.Quantity, PackSize: 1, UnitWeight: decimal.Zero}
		if p, ok := v.d.products[l.ProductID]; ok {
			ref.PackSize, ref.UnitWeight = p.packSize, p.unitWeight
		}
		out.Lines = append(out.Lines, ref)
	}
	return out, nil
}

func (v *view) SetOrderStatus(_ context.Context, orgID, orderID int64, status string) error {
	if err := v.fail("SetOrderStatus"); err != nil {
		return err
	}
	o, ok := v.d.orders[orderID]
	if !ok || o.OrgID != orgID {
		return challan.ErrOrderNotFound
	}
	o.Status = orders.Status(status)
	v.d.orders[orderID] = o
	return nil
}

func (v *view) InsertChallan(_ context.Context, ch challan.Challan) (int64, error) {
	ch.ID = v.d.next()
	ch.Items = nil
	v.d.challans[ch.ID] = ch
	return ch.ID, nil
}

func (v *view) InsertChallanItem(_ context.Context, it challan.Item) (int64, error) {
	ch, ok := v.d.challans[it.ChallanID]
	if !ok {
		return 0, challan.ErrChallanNotFound
	}
	if it.DispatchedQuantity < 0 || it.PendingQuantity < 0 {
		return 0, ErrCheckViolation
	}
	it.ID = v.d.next()
	ch.Items = append(slices.Clone(ch.Items), it)
	v.d.challans[ch.ID] = ch
	return it.ID, nil
}

func (v *view) GetChallanForUpdate(_ context.Context, orgID, challanID int64) (challan.Challan, error) {
	ch, ok := v.d.challans[challanID]
	if !ok || ch.OrgID != orgID {
		return challan.Challan{}, challan.ErrChallanNotFound
	}
	ch.Items = slices.Clone(ch.Items)
	return ch, nil
}

func (v *view) UpdateChallan(_ context.Context, in challan.Challan) error {
	if err := v.fail("UpdateChallan"); err != nil {
		return err
	}
	ch, ok := v.d.challans[in.ID]
	if !ok || ch.OrgID != in.OrgID {
		return challan.ErrChallanNotFound
	}
	in.Items = ch.Items
	v.d.challans[in.ID] = in
	return nil
}

func (v *view) InsertTrackingEvent(_ context.Context, ev challan.TrackingEvent) (int64, error) {
	ev.ID = v.d.next()
	v.d.tracking = append(v.d.tracking, ev)
	return ev.ID, nil
}

func (v *view) InsertDeliveryConfirmation(_ context.Context, c challan.DeliveryConfirmation) (int64, error) {
	c.ID = v.d.next()
	v.d.confirmations = append(v.d.confirmations, c)
	return c.ID, nil
}

func orderRef(o orders.Order) payments.OrderRef {
	return payments.OrderRef{
		ID:            o.ID,
		OrgID:         o.OrgID,
		CustomerID:    o.CustomerID,
		FinalAmount:   o.FinalAmount,
		PaymentStatus: o.PaymentStatus,
		DueDate:       o.DueDate,
	}
}

func sumAllocated(d *data, orgID, orderID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range d.allocations {
		if a.OrgID == orgID && a.OrderID == orderID {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}
