package payments_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
	"github.com/odyssey-erp/pharmaledger/internal/testing/memstore"
)

const (
	orgID      = int64(1)
	customerID = int64(7)
	otherID    = int64(8)
)

type fixture struct {
	store *memstore.Store
	audit *memstore.Audit
	svc   *payments.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.AddCustomer(discounts.Customer{ID: customerID, OrgID: orgID, Name: "Apollo Pharmacy", Type: "pharmacy"})
	store.AddCustomer(discounts.Customer{ID: otherID, OrgID: orgID, Name: "City Hospital", Type: "hospital"})
	store.SetCredit(payments.CustomerCredit{OrgID: orgID, CustomerID: customerID, CreditLimit: dec("5000"), CreditUsed: dec("1500")})
	audit := &memstore.Audit{}
	now := func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := payments.NewService(store.Payments(), audit, &memstore.Keys{}, now, logger)
	return &fixture{store: store, audit: audit, svc: svc}
}

func (f *fixture) order(customer int64, final string) int64 {
	o := f.store.AddOrder(orders.Order{
		OrgID:         orgID,
		CustomerID:    customer,
		Status:        orders.StatusConfirmed,
		PaymentStatus: payments.StatusPending,
		FinalAmount:   dec(final),
	})
	return o.ID
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireAmount(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s got %s %v", want, got, msg)
}

func TestAllocateOverpaymentBecomesAdvance(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(customerID, "1000")

	res, err := f.svc.Allocate(context.Background(), payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("1200"), Mode: "bank_transfer",
		OrderIDs: []int64{orderID}, ActorID: 3,
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	requireAmount(t, "1000", res.Allocations[0].Amount)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, payments.StatusPaid, res.Orders[0].Status)
	require.NotNil(t, res.Advance)
	requireAmount(t, "200", res.Advance.RemainingAmount)
	assert.Equal(t, payments.AdvanceActive, res.Advance.Status)

	o, _ := f.store.Order(orderID)
	assert.Equal(t, payments.StatusPaid, o.PaymentStatus)

	out, ok := f.store.Outstanding(orderID)
	require.True(t, ok)
	requireAmount(t, "0", out.OutstandingAmount)
	assert.Equal(t, payments.StatusPaid, out.Status)

	requireAmount(t, "500", f.store.Credit(customerID).CreditUsed)
	assert.Contains(t, f.audit.Actions(), "payments:allocate")
}

func TestApplyAdvanceReturnsShortfall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("200"), Mode: "cash", Kind: payments.KindAdvance,
	})
	require.NoError(t, err)
	orderID := f.order(customerID, "500")

	res, err := f.svc.ApplyAdvance(ctx, payments.ApplyAdvanceInput{
		OrgID: orgID, CustomerID: customerID, OrderID: orderID, Amount: dec("300"), ActorID: 3,
	})
	require.NoError(t, err)
	requireAmount(t, "300", res.Requested)
	requireAmount(t, "300", res.Applicable)
	requireAmount(t, "200", res.Applied)
	requireAmount(t, "100", res.Shortfall)
	assert.Equal(t, payments.StatusPartial, res.Status)
	require.Len(t, res.Usages, 1)

	advances := f.store.Advances(customerID)
	require.Len(t, advances, 1)
	assert.Equal(t, payments.AdvanceFullyUsed, advances[0].Status)
	requireAmount(t, "0", advances[0].RemainingAmount)
	requireAmount(t, "200", f.store.Allocated(orgID, orderID))

	out, ok := f.store.Outstanding(orderID)
	require.True(t, ok)
	requireAmount(t, "300", out.OutstandingAmount)
}

func TestApplyAdvanceClampsToOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("1000"), Mode: "cash", Kind: payments.KindAdvance,
	})
	require.NoError(t, err)
	orderID := f.order(customerID, "150")

	res, err := f.svc.ApplyAdvance(ctx, payments.ApplyAdvanceInput{
		OrgID: orgID, CustomerID: customerID, OrderID: orderID, Amount: dec("400"),
	})
	require.NoError(t, err)
	requireAmount(t, "150", res.Applicable)
	requireAmount(t, "150", res.Applied)
	requireAmount(t, "0", res.Shortfall)
	assert.Equal(t, payments.StatusPaid, res.Status)

	again, err := f.svc.ApplyAdvance(ctx, payments.ApplyAdvanceInput{
		OrgID: orgID, CustomerID: customerID, OrderID: orderID, Amount: dec("50"),
	})
	require.NoError(t, err)
	requireAmount(t, "0", again.Applicable)
	requireAmount(t, "0", again.Applied)
	assert.Empty(t, again.Usages)

	bal, err := f.svc.AdvanceBalance(ctx, orgID, customerID)
	require.NoError(t, err)
	requireAmount(t, "850", bal.Remaining)
}

func TestAllocationsNeverExceedOrderAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.order(customerID, "200")
	second := f.order(customerID, "500")

	res, err := f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("300"), Mode: "cheque", OrderIDs: []int64{first, second},
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, payments.StatusPaid, res.Orders[0].Status)
	assert.Equal(t, payments.StatusPartial, res.Orders[1].Status)
	assert.Nil(t, res.Advance)

	res, err = f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("1000"), Mode: "cheque", OrderIDs: []int64{first, second},
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, second, res.Orders[0].OrderID)
	requireAmount(t, "400", res.Orders[0].Allocated)
	require.NotNil(t, res.Advance)
	requireAmount(t, "600", res.Advance.Amount)

	requireAmount(t, "200", f.store.Allocated(orgID, first))
	requireAmount(t, "500", f.store.Allocated(orgID, second))
}

func TestAdvanceBalancesAreConserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, amt := range []string{"120.50", "80", "300"} {
		_, err := f.svc.Allocate(ctx, payments.AllocateInput{
			OrgID: orgID, CustomerID: customerID, Amount: dec(amt), Mode: "upi", Kind: payments.KindAdvance,
		})
		require.NoError(t, err)
	}
	for _, final := range []string{"100", "150.25", "90"} {
		orderID := f.order(customerID, final)
		_, err := f.svc.ApplyAdvance(ctx, payments.ApplyAdvanceInput{
			OrgID: orgID, CustomerID: customerID, OrderID: orderID, Amount: dec(final),
		})
		require.NoError(t, err)
	}

	used := decimal.Zero
	for _, adv := range f.store.Advances(customerID) {
		require.True(t, adv.UsedAmount.Add(adv.RemainingAmount).Equal(adv.Amount), "advance %d", adv.ID)
		require.False(t, adv.RemainingAmount.IsNegative())
		used = used.Add(adv.UsedAmount)
	}
	requireAmount(t, "340.25", used)

	usageTotal := decimal.Zero
	for _, u := range f.store.AdvanceUsages() {
		usageTotal = usageTotal.Add(u.Amount)
	}
	requireAmount(t, "340.25", usageTotal)
}

func TestAllocateRejectsDuplicateAndForeignOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.order(customerID, "100")
	theirs := f.order(otherID, "100")

	_, err := f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("50"), Mode: "cash", OrderIDs: []int64{mine, mine},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("150"), Mode: "cash", OrderIDs: []int64{mine, theirs},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	assert.Zero(t, f.store.PaymentCount())
	requireAmount(t, "0", f.store.Allocated(orgID, mine))
	requireAmount(t, "1500", f.store.Credit(customerID).CreditUsed)
}

func TestAllocateUnknownOrderIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Allocate(context.Background(), payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("50"), Mode: "cash", OrderIDs: []int64{999},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Zero(t, f.store.PaymentCount())
}

func TestAllocateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(customerID, "100")
	foreign := f.order(otherID, "100")

	_, err := f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("100"), Mode: "cash",
		OrderIDs: []int64{foreign}, IdempotencyKey: "rcpt-1",
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("-5"), Mode: "cash",
		OrderIDs: []int64{orderID}, IdempotencyKey: "rcpt-1",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Zero(t, f.store.PaymentCount())

	input := payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("100"), Mode: "cash",
		OrderIDs: []int64{orderID}, IdempotencyKey: "rcpt-1",
	}
	_, err = f.svc.Allocate(ctx, input)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 1, f.store.PaymentCount())
}

func TestAllocateRollsBackWhenReceivableWriteFails(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(customerID, "100")
	f.store.FailOn("UpsertOutstanding", memstore.ErrInjected)

	_, err := f.svc.Allocate(context.Background(), payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("100"), Mode: "cash", OrderIDs: []int64{orderID},
	})
	require.ErrorIs(t, err, memstore.ErrInjected)

	o, _ := f.store.Order(orderID)
	assert.Equal(t, payments.StatusPending, o.PaymentStatus)
	assert.Zero(t, f.store.PaymentCount())
	requireAmount(t, "1500", f.store.Credit(customerID).CreditUsed)
}

func TestRecomputeAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(customerID, "400")
	_, err := f.svc.Allocate(ctx, payments.AllocateInput{
		OrgID: orgID, CustomerID: customerID, Amount: dec("150"), Mode: "card", OrderIDs: []int64{orderID},
	})
	require.NoError(t, err)

	status, err := f.svc.RecomputeOrderPaymentStatus(ctx, orgID, orderID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPartial, status)

	sum, err := f.svc.OrderSummary(ctx, orgID, orderID)
	require.NoError(t, err)
	requireAmount(t, "150", sum.Allocated)
	requireAmount(t, "250", sum.Outstanding)
	assert.Len(t, sum.Allocations, 1)

	_, err = f.svc.OrderSummary(ctx, orgID, 12345)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyAdvanceValidation(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(customerID, "100")
	_, err := f.svc.ApplyAdvance(context.Background(), payments.ApplyAdvanceInput{
		OrgID: orgID, CustomerID: customerID, OrderID: orderID, Amount: dec("0"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ApplyAdvance(context.Background(), payments.ApplyAdvanceInput{
		OrgID: orgID, CustomerID: otherID, OrderID: orderID, Amount: dec("10"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
