package discounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limit(n int64) *int64 { return &n }

func TestParseTargeting(t *testing.T) {
	tg, err := ParseTargeting("customer_type", `["Pharmacy", " hospital "]`)
	require.NoError(t, err)
	assert.Equal(t, TargetCustomerType, tg.Mode)
	assert.True(t, tg.AllowsType("pharmacy"))
	assert.True(t, tg.AllowsType("HOSPITAL"))
	assert.False(t, tg.AllowsType("clinic"))

	tg, err = ParseTargeting("customer_type", "pharmacy, clinic")
	require.NoError(t, err)
	assert.True(t, tg.AllowsType("Clinic"))

	tg, err = ParseTargeting("", "ignored")
	require.NoError(t, err)
	assert.Equal(t, TargetAll, tg.Mode)

	_, err = ParseTargeting("customer_type", `["broken"`)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = ParseTargeting("region", "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIsEligible(t *testing.T) {
	pharmacy := Customer{ID: 3, Type: "pharmacy"}
	types, err := ParseTargeting("customer_type", "pharmacy")
	require.NoError(t, err)

	cases := []struct {
		name   string
		scheme Scheme
		usage  *CustomerUsage
		want   bool
	}{
		{"open scheme", Scheme{Targeting: Targeting{Mode: TargetAll}}, nil, true},
		{"per customer cap reached", Scheme{PerCustomerLimit: limit(2)}, &CustomerUsage{UsageCount: 2}, false},
		{"per customer cap free", Scheme{PerCustomerLimit: limit(2)}, &CustomerUsage{UsageCount: 1}, true},
		{"global cap reached", Scheme{UsageLimit: limit(10), UsageCount: 10}, nil, false},
		{"specific without row", Scheme{Targeting: Targeting{Mode: TargetSpecificCustomers}}, nil, false},
		{"specific with row", Scheme{Targeting: Targeting{Mode: TargetSpecificCustomers}}, &CustomerUsage{}, true},
		{"type allowed", Scheme{Targeting: types}, nil, true},
		{"type rejected", Scheme{Targeting: Targeting{Mode: TargetCustomerType, Types: map[string]struct{}{"hospital": {}}}}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsEligible(tc.scheme, pharmacy, tc.usage))
		})
	}
}

func TestCalculate(t *testing.T) {
	order := OrderContext{Customer: Customer{ID: 1}, GrossAmount: d("1000")}
	lines := []Line{{Quantity: 4}, {Quantity: 6}}

	pct := Scheme{Type: TypePercentage, Value: d("12.5")}
	assert.True(t, d("125").Equal(Calculate(pct, order, lines, nil)))

	pct.MaxDiscountAmount = decimal.NewNullDecimal(d("100"))
	assert.True(t, d("100").Equal(Calculate(pct, order, lines, nil)))

	fixed := Scheme{Type: TypeFixedAmount, Value: d("50"), MinOrderValue: d("1000"), MinQuantity: 10}
	assert.True(t, d("50").Equal(Calculate(fixed, order, lines, nil)))

	fixed.MinQuantity = 11
	assert.True(t, Calculate(fixed, order, lines, nil).IsZero())

	fixed.MinQuantity = 0
	fixed.MinOrderValue = d("1000.01")
	assert.True(t, Calculate(fixed, order, lines, nil).IsZero())

	bogus := Scheme{Type: DiscountType("buy_x_get_y"), Value: d("5")}
	assert.True(t, Calculate(bogus, order, lines, nil).IsZero())

	capped := Scheme{Type: TypeFixedAmount, Value: d("50"), UsageLimit: limit(1), UsageCount: 1}
	assert.True(t, Calculate(capped, order, lines, nil).IsZero())
}

func TestCalculateRoundsPercentage(t *testing.T) {
	order := OrderContext{GrossAmount: d("333.33")}
	got := Calculate(Scheme{Type: TypePercentage, Value: d("10")}, order, nil, nil)
	assert.Equal(t, "33.33", got.StringFixed(2))
}

func TestGrossAmount(t *testing.T) {
	got := GrossAmount([]Line{{Quantity: 3, UnitPrice: d("10.50")}, {Quantity: 2, UnitPrice: d("4")}})
	assert.True(t, d("39.5").Equal(got))
}
