package orders_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaledger/internal/challan"
	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
	"github.com/odyssey-erp/pharmaledger/internal/testing/memstore"
)

const (
	orgID      = int64(1)
	customerID = int64(7)
	actorID    = int64(3)
)

var clock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	audit    *memstore.Audit
	svc      *orders.Service
	payments *payments.Service
	challans *challan.Service
	batchA   int64
	batchB   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.AddProduct(100, 10, dec("0.25"))
	a := store.AddBatch(inventory.Batch{
		OrgID: orgID, ProductID: 100, BatchNumber: "AMX-01", ExpiryDate: clock.AddDate(0, 8, 0),
		SalePrice: dec("12.50"), CreatedAt: clock.AddDate(0, -2, 0),
	}, 50)
	b := store.AddBatch(inventory.Batch{
		OrgID: orgID, ProductID: 101, BatchNumber: "CTZ-09", ExpiryDate: clock.AddDate(1, 0, 0),
		SalePrice: dec("4"), CreatedAt: clock.AddDate(0, -1, 0),
	}, 5)
	store.AddCustomer(discounts.Customer{ID: customerID, OrgID: orgID, Name: "Apollo Pharmacy", Type: "Pharmacy"})
	store.SetCredit(payments.CustomerCredit{OrgID: orgID, CustomerID: customerID, CreditLimit: dec("10000"), CreditUsed: dec("1000")})

	now := func() time.Time { return clock }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &memstore.Audit{}
	inv := inventory.NewService(store.Inventory(), audit, inventory.ServiceConfig{
		Thresholds: inventory.Thresholds{LowStock: 5, ReorderLevel: 10},
		Now:        now,
	}, logger)
	disc := discounts.NewService(store.Discounts(), now, logger)
	pay := payments.NewService(store.Payments(), audit, &memstore.Keys{}, now, logger)
	svc := orders.NewService(store.Orders(), orders.Deps{
		Inventory:   inv,
		Discounts:   disc,
		Payments:    pay,
		Audit:       audit,
		Idempotency: &memstore.Keys{},
		Now:         now,
		Logger:      logger,
	})
	return &fixture{
		store:    store,
		audit:    audit,
		svc:      svc,
		payments: pay,
		challans: challan.NewService(store.Challans(), inv, audit, now, logger),
		batchA:   a.ID,
		batchB:   b.ID,
	}
}

func (f *fixture) scheme(s discounts.Scheme) discounts.Scheme {
	s.OrgID = orgID
	s.ValidFrom = clock.AddDate(0, -1, 0)
	s.ValidUntil = clock.AddDate(0, 1, 0)
	return f.store.AddScheme(s)
}

func (f *fixture) current(t *testing.T, batchID int64) int64 {
	t.Helper()
	st, ok := f.store.Status(batchID)
	require.True(t, ok)
	return st.CurrentQuantity
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s got %s", want, got)
}

func TestProcessOrderPricesBooksAndOpensReceivable(t *testing.T) {
	f := newFixture(t)
	pct := f.scheme(discounts.Scheme{
		Name: "Monsoon 10%", Type: discounts.TypePercentage, Value: dec("10"), MinOrderValue: dec("100"),
		Targeting: discounts.Targeting{Mode: discounts.TargetAll},
	})
	hospital, err := discounts.ParseTargeting("customer_type", `["hospital"]`)
	require.NoError(t, err)
	f.scheme(discounts.Scheme{
		Name: "Hospital flat", Type: discounts.TypeFixedAmount, Value: dec("30"), Targeting: hospital,
	})

	p, err := f.svc.ProcessOrder(context.Background(), orders.PlaceOrderInput{
		OrgID:      orgID,
		CustomerID: customerID,
		Lines:      []orders.LineInput{{BatchID: f.batchA, Quantity: 20}},
	}, actorID)
	require.NoError(t, err)

	o := p.Order
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, payments.StatusPending, o.PaymentStatus)
	assert.Regexp(t, `^SO-`, o.Number)
	requireAmount(t, "250", o.GrossAmount)
	requireAmount(t, "25", o.DiscountAmount)
	requireAmount(t, "225", o.FinalAmount)
	require.Len(t, o.Lines, 1)
	requireAmount(t, "12.50", o.Lines[0].UnitPrice)

	require.Len(t, p.Discounts.Applied, 1)
	assert.Equal(t, pct.ID, p.Discounts.Applied[0].SchemeID)
	assert.Len(t, f.store.AppliedDiscounts(o.ID), 1)
	assert.Equal(t, int64(1), f.store.Scheme(pct.ID).UsageCount)
	usage, ok := f.store.Usage(pct.ID, customerID)
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.UsageCount)

	require.Len(t, p.Movements, 1)
	assert.Equal(t, inventory.KindSale, p.Movements[0].Transaction.Kind)
	assert.Equal(t, int64(-20), p.Movements[0].Transaction.QuantityChange)
	assert.Equal(t, o.Number, p.Movements[0].Transaction.Reference)
	assert.Equal(t, int64(30), f.current(t, f.batchA))

	requireAmount(t, "225", p.Outstanding.OutstandingAmount)
	out, ok := f.store.Outstanding(o.ID)
	require.True(t, ok)
	requireAmount(t, "225", out.TotalAmount)
	requireAmount(t, "1225", f.store.Credit(customerID).CreditUsed)

	stored, ok := f.store.Order(o.ID)
	require.True(t, ok)
	requireAmount(t, "225", stored.FinalAmount)

	actions := f.audit.Actions()
	assert.Contains(t, actions, "inventory:sale")
	assert.Contains(t, actions, "orders:place")
}

func TestProcessOrderExplicitPriceAndZeroFloor(t *testing.T) {
	f := newFixture(t)
	f.scheme(discounts.Scheme{
		Name: "Clearance", Type: discounts.TypeFixedAmount, Value: dec("500"),
		Targeting: discounts.Targeting{Mode: discounts.TargetAll},
	})

	p, err := f.svc.ProcessOrder(context.Background(), orders.PlaceOrderInput{
		OrgID:      orgID,
		CustomerID: customerID,
		Lines: []orders.LineInput{
			{BatchID: f.batchA, Quantity: 10, UnitPrice: decimal.NewNullDecimal(dec("11"))},
			{BatchID: f.batchB, Quantity: 5},
		},
	}, actorID)
	require.NoError(t, err)
	requireAmount(t, "130", p.Order.GrossAmount)
	requireAmount(t, "500", p.Order.DiscountAmount)
	requireAmount(t, "0", p.Order.FinalAmount)
	assert.Equal(t, int64(0), f.current(t, f.batchB))

	st, _ := f.store.Status(f.batchB)
	assert.True(t, st.OutOfStock)
}

func TestProcessOrderIsAtomicOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	pct := f.scheme(discounts.Scheme{
		Name: "All 5%", Type: discounts.TypePercentage, Value: dec("5"),
		Targeting: discounts.Targeting{Mode: discounts.TargetAll},
	})

	_, err := f.svc.ProcessOrder(context.Background(), orders.PlaceOrderInput{
		OrgID:      orgID,
		CustomerID: customerID,
		Lines: []orders.LineInput{
			{BatchID: f.batchA, Quantity: 10},
			{BatchID: f.batchB, Quantity: 6},
		},
	}, actorID)
	require.ErrorIs(t, err, shared.ErrInsufficientInventory)

	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.store.Transactions(f.batchA))
	assert.Empty(t, f.store.Transactions(f.batchB))
	assert.Zero(t, f.store.Scheme(pct.ID).UsageCount)
	_, enrolled := f.store.Usage(pct.ID, customerID)
	assert.False(t, enrolled)
	requireAmount(t, "1000", f.store.Credit(customerID).CreditUsed)
	assert.NotContains(t, f.audit.Actions(), "orders:place")
}

func TestProcessOrderRollsBackWhenReceivableFails(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("UpsertOutstanding", memstore.ErrInjected)

	_, err := f.svc.ProcessOrder(context.Background(), orders.PlaceOrderInput{
		OrgID: orgID, CustomerID: customerID,
		Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 1}},
	}, actorID)
	require.ErrorIs(t, err, memstore.ErrInjected)
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.store.Transactions(f.batchA))
	_, ok := f.store.Status(f.batchA)
	assert.False(t, ok)
}

func TestProcessOrderHonoursDraftReservations(t *testing.T) {
	f := newFixture(t)
	f.store.AddOrder(orders.Order{
		OrgID: orgID, CustomerID: customerID, Status: orders.StatusDraft,
		Lines: []orders.Line{{BatchID: f.batchA, ProductID: 100, Quantity: 25}},
	})

	_, err := f.svc.ProcessOrder(context.Background(), orders.PlaceOrderInput{
		OrgID: orgID, CustomerID: customerID,
		Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 30}},
	}, actorID)
	var insufficient *shared.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(25), insufficient.Available)

	_, err = f.svc.ProcessOrder(context.Background(), orders.PlaceOrderInput{
		OrgID: orgID, CustomerID: customerID,
		Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 25}},
	}, actorID)
	require.NoError(t, err)

	st, _ := f.store.Status(f.batchA)
	assert.Equal(t, int64(25), st.CurrentQuantity)
	assert.Equal(t, int64(25), st.ReservedQuantity)
	assert.Zero(t, st.AvailableQuantity)
}

func TestProcessOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]struct {
		input orders.PlaceOrderInput
		want  error
	}{
		"no lines": {
			input: orders.PlaceOrderInput{OrgID: orgID, CustomerID: customerID},
			want:  shared.ErrValidation,
		},
		"zero quantity": {
			input: orders.PlaceOrderInput{OrgID: orgID, CustomerID: customerID, Lines: []orders.LineInput{{BatchID: f.batchA}}},
			want:  shared.ErrValidation,
		},
		"negative price": {
			input: orders.PlaceOrderInput{OrgID: orgID, CustomerID: customerID, Lines: []orders.LineInput{
				{BatchID: f.batchA, Quantity: 1, UnitPrice: decimal.NewNullDecimal(dec("-1"))},
			}},
			want: shared.ErrValidation,
		},
		"unknown customer": {
			input: orders.PlaceOrderInput{OrgID: orgID, CustomerID: 404, Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 1}}},
			want:  shared.ErrNotFound,
		},
		"unknown batch": {
			input: orders.PlaceOrderInput{OrgID: orgID, CustomerID: customerID, Lines: []orders.LineInput{{BatchID: 404, Quantity: 1}}},
			want:  shared.ErrNotFound,
		},
		"other organisation": {
			input: orders.PlaceOrderInput{OrgID: 2, CustomerID: customerID, Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 1}}},
			want:  shared.ErrNotFound,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ProcessOrder(ctx, tc.input, actorID)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.store.OrderCount())
}

func TestProcessOrderIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	input := orders.PlaceOrderInput{
		OrgID: orgID, CustomerID: customerID, IdempotencyKey: "po-77",
		Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 2}},
	}
	_, err := f.svc.ProcessOrder(context.Background(), input, actorID)
	require.NoError(t, err)
	_, err = f.svc.ProcessOrder(context.Background(), input, actorID)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, int64(48), f.current(t, f.batchA))
}

func TestOrderToCashLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.ProcessOrder(ctx, orders.PlaceOrderInput{
		OrgID: orgID, CustomerID: customerID,
		Lines: []orders.LineInput{{BatchID: f.batchA, Quantity: 20}},
	}, actorID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), f.current(t, f.batchA))

	ch, err := f.challans.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: p.Order.ID, ActorID: actorID})
	require.NoError(t, err)
	_, err = f.challans.Dispatch(ctx, challan.DispatchInput{OrgID: orgID, ChallanID: ch.ID, ActorID: actorID})
	require.NoError(t, err)
	// sale at placement and dispatch at shipment are both posted
	assert.Equal(t, int64(10), f.current(t, f.batchA))

	res, err := f.payments.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("250"), Mode: "bank_transfer",
		OrderIDs: []int64{p.Order.ID}, ActorID: actorID,
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, payments.StatusPaid, res.Orders[0].Status)
	assert.Nil(t, res.Advance)

	got, err := f.svc.Get(ctx, orgID, p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDispatched, got.Status)
	assert.Equal(t, payments.StatusPaid, got.PaymentStatus)
	requireAmount(t, "1000", f.store.Credit(customerID).CreditUsed)

	_, err = f.svc.Get(ctx, orgID, 9999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
