package challan_test

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
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
	"github.com/odyssey-erp/pharmaledger/internal/testing/memstore"
)

const orgID = int64(1)

var clock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memstore.Store
	audit   *memstore.Audit
	svc     *challan.Service
	batchID int64
}

func newFixture(t *testing.T, opening int64) *fixture {
	t.Helper()
	store := memstore.New()
	store.AddProduct(100, 10, decimal.RequireFromString("0.25"))
	b := store.AddBatch(inventory.Batch{
		OrgID:       orgID,
		ProductID:   100,
		BatchNumber: "PCM-2407",
		ExpiryDate:  clock.AddDate(1, 0, 0),
		SalePrice:   decimal.RequireFromString("12.50"),
		CreatedAt:   clock.AddDate(0, -1, 0),
	}, opening)

	now := func() time.Time { return clock }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &memstore.Audit{}
	inv := inventory.NewService(store.Inventory(), audit, inventory.ServiceConfig{
		Thresholds: inventory.Thresholds{LowStock: 5, ReorderLevel: 10},
		Now:        now,
	}, logger)
	svc := challan.NewService(store.Challans(), inv, audit, now, logger)
	return &fixture{store: store, audit: audit, svc: svc, batchID: b.ID}
}

func (f *fixture) order(status orders.Status, qty int64) orders.Order {
	return f.store.AddOrder(orders.Order{
		OrgID:         orgID,
		CustomerID:    7,
		Status:        status,
		PaymentStatus: payments.StatusPending,
		Lines:         []orders.Line{{BatchID: f.batchID, ProductID: 100, Quantity: qty}},
	})
}

func (f *fixture) current(t *testing.T) int64 {
	t.Helper()
	st, ok := f.store.Status(f.batchID)
	require.True(t, ok)
	return st.CurrentQuantity
}

func TestDispatchPostsMovementsAndMovesOrder(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 20)

	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	require.NoError(t, err)
	assert.Equal(t, challan.StatePrepared, ch.State)
	assert.Regexp(t, `^DC-[0-9A-F-]{8}$`, ch.Number)
	require.Len(t, ch.Items, 1)
	assert.Equal(t, int64(2), ch.PackageCount)
	assert.True(t, decimal.RequireFromString("5").Equal(ch.TotalWeight))
	assert.Empty(t, f.store.Transactions(f.batchID))

	ch, err = f.svc.Dispatch(ctx, challan.DispatchInput{
		OrgID: orgID, ChallanID: ch.ID, ActorID: 2,
		Transport: challan.Transport{VehicleNumber: "KA-01-AB-1234", DriverName: "Ravi"},
	})
	require.NoError(t, err)
	assert.Equal(t, challan.StateDispatched, ch.State)
	require.NotNil(t, ch.DispatchedAt)

	txs := f.store.Transactions(f.batchID)
	require.Len(t, txs, 1)
	assert.Equal(t, inventory.KindDispatch, txs[0].Kind)
	assert.Equal(t, int64(-20), txs[0].QuantityChange)
	assert.Equal(t, ch.Number, txs[0].Reference)
	assert.True(t, txs[0].IsAutomatic)
	assert.Equal(t, int64(30), f.current(t))

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, orders.StatusDispatched, stored.Status)

	events, err := f.svc.Tracking(ctx, orgID, ch.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, challan.StatePrepared, events[0].State)
	assert.Equal(t, challan.StateDispatched, events[1].State)
	assert.Equal(t, "In transit", events[1].Location)

	assert.Contains(t, f.audit.Actions(), "inventory:dispatch")
	assert.Contains(t, f.audit.Actions(), "challan:dispatch")
}

func TestCancelAfterDispatchReturnsStock(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 20)
	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, challan.DispatchInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2})
	require.NoError(t, err)

	ch, err = f.svc.Cancel(ctx, challan.CancelInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2, Reason: "vehicle breakdown"})
	require.NoError(t, err)
	assert.Equal(t, challan.StateCancelled, ch.State)
	assert.Equal(t, "vehicle breakdown", ch.CancelReason)

	txs := f.store.Transactions(f.batchID)
	require.Len(t, txs, 2)
	assert.Equal(t, inventory.KindReturn, txs[1].Kind)
	assert.Equal(t, int64(20), txs[1].QuantityChange)
	assert.Equal(t, int64(50), f.current(t))

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)
}

func TestCancelPreparedChallanPostsNothing(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 5)
	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, challan.CancelInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2, Reason: "duplicate"})
	require.NoError(t, err)
	assert.Empty(t, f.store.Transactions(f.batchID))

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)
}

func TestDeliveredChallanCannotBeCancelled(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 10)
	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, challan.DispatchInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2})
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, challan.DeliverInput{
		OrgID: orgID, ChallanID: ch.ID, ActorID: 2, ReceivedBy: "S. Iyer", Satisfied: true, Method: "signature",
	})
	require.NoError(t, err)
	require.Len(t, f.store.Confirmations(ch.ID), 1)

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, orders.StatusDelivered, stored.Status)

	_, err = f.svc.Cancel(ctx, challan.CancelInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2, Reason: "customer refused"})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	got, err := f.svc.Get(ctx, orgID, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, challan.StateDelivered, got.State)
	assert.Len(t, f.store.Transactions(f.batchID), 1)
}

func TestDispatchRollsBackOnInsufficientStock(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 20)
	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	require.NoError(t, err)

	_, err = f.svc.Dispatch(ctx, challan.DispatchInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2})
	var insufficient *shared.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(20), insufficient.Requested)
	assert.Equal(t, int64(10), insufficient.Available)

	got, err := f.svc.Get(ctx, orgID, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, challan.StatePrepared, got.State)
	assert.Nil(t, got.DispatchedAt)
	assert.Empty(t, f.store.Transactions(f.batchID))

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)

	events, err := f.svc.Tracking(ctx, orgID, ch.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPartialChallanShipsOnlyRequestedQuantity(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 20)
	lineID := o.Lines[0].ID

	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2, Partial: map[int64]int64{lineID: 8}})
	require.NoError(t, err)
	require.Len(t, ch.Items, 1)
	assert.Equal(t, int64(8), ch.Items[0].DispatchedQuantity)
	assert.Equal(t, int64(12), ch.Items[0].PendingQuantity)

	_, err = f.svc.Dispatch(ctx, challan.DispatchInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.current(t))

	second, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2, Partial: map[int64]int64{lineID: 12}})
	require.NoError(t, err, "a dispatched order accepts further challans")
	assert.Equal(t, int64(12), second.Items[0].DispatchedQuantity)
}

func TestZeroOverrideKeepsLineWithoutMovingStock(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 20)

	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2, Partial: map[int64]int64{o.Lines[0].ID: 0}})
	require.NoError(t, err)
	require.Len(t, ch.Items, 1)
	assert.Zero(t, ch.Items[0].DispatchedQuantity)
	assert.Equal(t, int64(20), ch.Items[0].PendingQuantity)

	_, err = f.svc.Dispatch(ctx, challan.DispatchInput{OrgID: orgID, ChallanID: ch.ID, ActorID: 2})
	require.NoError(t, err)
	assert.Empty(t, f.store.Transactions(f.batchID))
	assert.Zero(t, ch.PackageCount)
}

func TestCreateRequiresConfirmedOrder(t *testing.T) {
	f := newFixture(t, 50)
	o := f.order(orders.StatusDraft, 5)
	_, err := f.svc.Create(context.Background(), challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	var te *shared.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "order", te.Entity)
	assert.Equal(t, "draft", te.From)

	_, err = f.svc.Create(context.Background(), challan.CreateInput{OrgID: orgID, OrderID: 999, ActorID: 2})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLifecycleInputValidation(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := f.order(orders.StatusConfirmed, 5)
	ch, err := f.svc.Create(ctx, challan.CreateInput{OrgID: orgID, OrderID: o.ID, ActorID: 2})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, challan.CancelInput{OrgID: orgID, ChallanID: ch.ID, Reason: "  "})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Deliver(ctx, challan.DeliverInput{OrgID: orgID, ChallanID: ch.ID, ReceivedBy: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Deliver(ctx, challan.DeliverInput{OrgID: orgID, ChallanID: ch.ID, ReceivedBy: "x", Method: "otp"})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.Get(ctx, orgID, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
