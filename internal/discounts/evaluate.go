package discounts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// ParseTargeting turns the stored target text into a Targeting value. raw may be a
// JSON array of strings or a comma separated list.
func ParseTargeting(mode, raw string) (Targeting, error) {
	switch TargetMode(strings.TrimSpace(mode)) {
	case "", TargetAll:
		return Targeting{Mode: TargetAll}, nil
	case TargetSpecificCustomers:
		return Targeting{Mode: TargetSpecificCustomers}, nil
	case TargetCustomerType:
		types, err := parseList(raw)
		if err != nil {
			return Targeting{}, err
		}
		set := make(map[string]struct{}, len(types))
		for _, t := range types {
			if t = normaliseType(t); t != "" {
				set[t] = struct{}{}
			}
		}
		return Targeting{Mode: TargetCustomerType, Types: set}, nil
	default:
		return Targeting{}, shared.Invalid("target_mode", fmt.Sprintf("unknown mode %q", mode))
	}
}

func parseList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, shared.Invalid("target_value", err.Error())
		}
		return out, nil
	}
	return strings.Split(raw, ","), nil
}

func normaliseType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// IsEligible checks usage caps and targeting. usage is nil when the customer has no
// DiscountCustomer row.
func IsEligible(scheme Scheme, customer Customer, usage *CustomerUsage) bool {
	if scheme.PerCustomerLimit != nil && usage != nil && usage.UsageCount >= *scheme.PerCustomerLimit {
		return false
	}
	if scheme.UsageLimit != nil && scheme.UsageCount >= *scheme.UsageLimit {
		return false
	}
	switch scheme.Targeting.Mode {
	case TargetSpecificCustomers:
		return usage != nil
	case TargetCustomerType:
		return scheme.Targeting.AllowsType(customer.Type)
	default:
		return true
	}
}

// Calculate returns the discount a scheme grants to an order, zero when it does not apply.
func Calculate(scheme Scheme, order OrderContext, lines []Line, usage *CustomerUsage) decimal.Decimal {
	if !IsEligible(scheme, order.Customer, usage) {
		return decimal.Zero
	}
	if order.GrossAmount.LessThan(scheme.MinOrderValue) {
		return decimal.Zero
	}
	var qty int64
	for _, l := range lines {
		qty += l.Quantity
	}
	if qty < scheme.MinQuantity {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch scheme.Type {
	case TypePercentage:
		amount = order.GrossAmount.Mul(scheme.Value).Div(hundred).Round(2)
	case TypeFixedAmount:
		amount = scheme.Value
	default:
		return decimal.Zero
	}
	if scheme.MaxDiscountAmount.Valid && amount.GreaterThan(scheme.MaxDiscountAmount.Decimal) {
		amount = scheme.MaxDiscountAmount.Decimal
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// GrossAmount sums quantity times unit price over lines.
func GrossAmount(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
	}
	return total
}
