package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/odyssey-erp/pharmaledger/internal/challan"
	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
)

var (
	_ inventory.RepositoryPort = (*InventoryRepo)(nil)
	_ payments.RepositoryPort  = (*PaymentsRepo)(nil)
	_ discounts.RepositoryPort = (*DiscountsRepo)(nil)
	_ challan.RepositoryPort   = (*ChallanRepo)(nil)
	_ orders.RepositoryPort    = (*OrdersRepo)(nil)
)

// InventoryRepo serves the inventory service.
type InventoryRepo struct{ s *Store }

func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(ctx, func(v *view) error { return fn(ctx, v) })
}

func (r *InventoryRepo) ListProductBatches(_ context.Context, orgID, productID int64) ([]inventory.BatchStock, error) {
	var out []inventory.BatchStock
	r.s.read(func(d *data) {
		for _, b := range d.batches {
			if b.OrgID == orgID && b.ProductID == productID {
				out = append(out, stockOf(d, b))
			}
		}
	})
	slices.SortFunc(out, func(a, b inventory.BatchStock) int {
		return cmp.Or(
			a.Batch.ExpiryDate.Compare(b.Batch.ExpiryDate),
			a.Batch.CreatedAt.Compare(b.Batch.CreatedAt),
			cmp.Compare(a.Batch.ID, b.Batch.ID),
		)
	})
	return out, nil
}

func (r *InventoryRepo) ListExpiringBatches(_ context.Context, f inventory.ExpiryFilter) ([]inventory.BatchStock, error) {
	var out []inventory.BatchStock
	r.s.read(func(d *data) {
		for _, b := range d.batches {
			if b.OrgID != f.OrgID || b.ExpiryDate.After(f.Until) {
				continue
			}
			if c := b.ExpiryDate.Compare(f.AfterExpiry); c < 0 || (c == 0 && b.ID <= f.AfterID) {
				continue
			}
			out = append(out, stockOf(d, b))
		}
	})
	slices.SortFunc(out, func(a, b inventory.BatchStock) int {
		return cmp.Or(a.Batch.ExpiryDate.Compare(b.Batch.ExpiryDate), cmp.Compare(a.Batch.ID, b.Batch.ID))
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InventoryRepo) ListBatchIDs(_ context.Context, orgID int64) ([]int64, error) {
	var ids []int64
	r.s.read(func(d *data) {
		for id, b := range d.batches {
			if b.OrgID == orgID {
				ids = append(ids, id)
			}
		}
	})
	slices.Sort(ids)
	return ids, nil
}

func (r *InventoryRepo) GetStatus(_ context.Context, orgID, batchID int64) (inventory.Status, error) {
	var (
		st inventory.Status
		ok bool
	)
	r.s.read(func(d *data) { st, ok = d.statuses[batchID] })
	if !ok || st.OrgID != orgID {
		return inventory.Status{}, inventory.ErrStatusNotFound
	}
	return st, nil
}

func (r *InventoryRepo) ListTransactions(_ context.Context, f inventory.TransactionFilter) ([]inventory.Transaction, error) {
	var out []inventory.Transaction
	r.s.read(func(d *data) {
		for _, t := range d.transactions {
			if t.OrgID != f.OrgID || t.BatchID != f.BatchID {
				continue
			}
			if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
				continue
			}
			out = append(out, t)
		}
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func stockOf(d *data, b inventory.Batch) inventory.BatchStock {
	item := inventory.BatchStock{Batch: b}
	if st, ok := d.statuses[b.ID]; ok {
		item.Status = &st
	}
	return item
}

// PaymentsRepo serves the payments service.
type PaymentsRepo struct{ s *Store }

func (r *PaymentsRepo) WithTx(ctx context.Context, fn func(context.Context, payments.TxRepository) error) error {
	return r.s.withTx(ctx, func(v *view) error { return fn(ctx, v) })
}

func (r *PaymentsRepo) ListAdvances(_ context.Context, orgID, customerID int64) ([]payments.Advance, error) {
	var out []payments.Advance
	r.s.read(func(d *data) {
		for _, a := range d.advances {
			if a.OrgID == orgID && a.CustomerID == customerID {
				out = append(out, a)
			}
		}
	})
	return out, nil
}

func (r *PaymentsRepo) ListAllocationsByOrder(_ context.Context, orgID, orderID int64) ([]payments.Allocation, error) {
	var out []payments.Allocation
	r.s.read(func(d *data) {
		for _, a := range d.allocations {
			if a.OrgID == orgID && a.OrderID == orderID {
				out = append(out, a)
			}
		}
	})
	return out, nil
}

func (r *PaymentsRepo) GetOrderRef(_ context.Context, orgID, orderID int64) (payments.OrderRef, error) {
	var (
		o  orders.Order
		ok bool
	)
	r.s.read(func(d *data) { o, ok = d.orders[orderID] })
	if !ok || o.OrgID != orgID {
		return payments.OrderRef{}, payments.ErrOrderNotFound
	}
	return orderRef(o), nil
}

func (r *PaymentsRepo) GetOutstanding(_ context.Context, orgID, orderID int64) (payments.Outstanding, error) {
	var (
		o  payments.Outstanding
		ok bool
	)
	r.s.read(func(d *data) { o, ok = d.outstanding[orderID] })
	if !ok || o.OrgID != orgID {
		return payments.Outstanding{}, payments.ErrOutstandingNotFound
	}
	return o, nil
}

// DiscountsRepo serves the discounts service.
type DiscountsRepo struct{ s *Store }

func (r *DiscountsRepo) WithTx(ctx context.Context, fn func(context.Context, discounts.TxRepository) error) error {
	return r.s.withTx(ctx, func(v *view) error { return fn(ctx, v) })
}

// ChallanRepo serves the challan service.
type ChallanRepo struct{ s *Store }

func (r *ChallanRepo) WithTx(ctx context.Context, fn func(context.Context, challan.TxRepository) error) error {
	return r.s.withTx(ctx, func(v *view) error { return fn(ctx, v) })
}

func (r *ChallanRepo) GetChallan(_ context.Context, orgID, challanID int64) (challan.Challan, error) {
	var (
		ch challan.Challan
		ok bool
	)
	r.s.read(func(d *data) { ch, ok = d.challans[challanID] })
	if !ok || ch.OrgID != orgID {
		return challan.Challan{}, challan.ErrChallanNotFound
	}
	ch.Items = slices.Clone(ch.Items)
	return ch, nil
}

func (r *ChallanRepo) ListTracking(_ context.Context, orgID, challanID int64) ([]challan.TrackingEvent, error) {
	var out []challan.TrackingEvent
	r.s.read(func(d *data) {
		for _, ev := range d.tracking {
			if ev.OrgID == orgID && ev.ChallanID == challanID {
				out = append(out, ev)
			}
		}
	})
	return out, nil
}

// OrdersRepo serves the orders service.
type OrdersRepo struct{ s *Store }

func (r *OrdersRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	return r.s.withTx(ctx, func(v *view) error { return fn(ctx, v) })
}

func (r *OrdersRepo) GetOrder(_ context.Context, orgID, orderID int64) (orders.Order, error) {
	var (
		o  orders.Order
		ok bool
	)
	r.s.read(func(d *data) { o, ok = d.orders[orderID] })
	if !ok || o.OrgID != orgID {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return o, nil
}
