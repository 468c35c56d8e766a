package discounts_test

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
	"github.com/odyssey-erp/pharmaledger/internal/shared"
	"github.com/odyssey-erp/pharmaledger/internal/testing/memstore"
)

var clock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*memstore.Store, *discounts.Service) {
	t.Helper()
	store := memstore.New()
	store.AddCustomer(discounts.Customer{ID: 7, OrgID: 1, Name: "Apollo", Type: "pharmacy"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return store, discounts.NewService(store.Discounts(), func() time.Time { return clock }, logger)
}

func scheme(store *memstore.Store, s discounts.Scheme) discounts.Scheme {
	s.OrgID = 1
	if s.ValidFrom.IsZero() {
		s.ValidFrom = clock.AddDate(0, -1, 0)
	}
	if s.ValidUntil.IsZero() {
		s.ValidUntil = clock.AddDate(0, 1, 0)
	}
	return store.AddScheme(s)
}

func lines() []discounts.Line {
	return []discounts.Line{{BatchID: 1, ProductID: 100, Quantity: 10, UnitPrice: decimal.RequireFromString("40")}}
}

func TestPreviewDoesNotRecordUsage(t *testing.T) {
	store, svc := newService(t)
	s := scheme(store, discounts.Scheme{
		Name: "5%", Type: discounts.TypePercentage, Value: decimal.NewFromInt(5),
		Targeting: discounts.Targeting{Mode: discounts.TargetAll},
	})

	app, err := svc.Preview(context.Background(), 1, 7, lines())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(app.Total))
	require.Len(t, app.Applied, 1)
	assert.Zero(t, app.Applied[0].ID)

	assert.Zero(t, store.Scheme(s.ID).UsageCount)
	_, ok := store.Usage(s.ID, 7)
	assert.False(t, ok)

	_, err = svc.Preview(context.Background(), 1, 404, lines())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyEligibleStacksAndCountsUsage(t *testing.T) {
	store, svc := newService(t)
	limit := int64(1)
	pct := scheme(store, discounts.Scheme{
		Name: "10% capped", Type: discounts.TypePercentage, Value: decimal.NewFromInt(10),
		MaxDiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(25)),
		PerCustomerLimit:  &limit,
		Targeting:         discounts.Targeting{Mode: discounts.TargetAll},
	})
	vip := scheme(store, discounts.Scheme{
		Name: "VIP flat", Type: discounts.TypeFixedAmount, Value: decimal.NewFromInt(15),
		Targeting: discounts.Targeting{Mode: discounts.TargetSpecificCustomers},
	})
	scheme(store, discounts.Scheme{
		Name: "Expired", Type: discounts.TypeFixedAmount, Value: decimal.NewFromInt(99),
		ValidFrom: clock.AddDate(0, -3, 0), ValidUntil: clock.AddDate(0, -2, 0),
		Targeting: discounts.Targeting{Mode: discounts.TargetAll},
	})
	store.Enrol(1, vip.ID, 7, 0)

	order := discounts.OrderContext{
		OrgID: 1, OrderID: 55, ActorID: 3,
		Customer:    discounts.Customer{ID: 7, OrgID: 1, Type: "pharmacy"},
		GrossAmount: discounts.GrossAmount(lines()),
	}
	app, err := svc.ApplyEligible(context.Background(), order, lines())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(40).Equal(app.Total), app.Total.String())
	require.Len(t, app.Applied, 2)
	assert.Equal(t, pct.ID, app.Applied[0].SchemeID)
	assert.Equal(t, vip.ID, app.Applied[1].SchemeID)
	assert.Len(t, store.AppliedDiscounts(55), 2)

	usage, ok := store.Usage(pct.ID, 7)
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.UsageCount)

	order.OrderID = 56
	app, err = svc.ApplyEligible(context.Background(), order, lines())
	require.NoError(t, err)
	require.Len(t, app.Applied, 1, "per-customer limit reached for the percentage scheme")
	assert.Equal(t, vip.ID, app.Applied[0].SchemeID)
	assert.Equal(t, int64(2), store.Scheme(vip.ID).UsageCount)
}

func TestApplyEligibleRequiresOrder(t *testing.T) {
	_, svc := newService(t)
	_, err := svc.ApplyEligible(context.Background(), discounts.OrderContext{OrgID: 1}, lines())
	require.ErrorIs(t, err, shared.ErrValidation)
}
