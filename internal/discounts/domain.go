package discounts

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a scheme computes its amount.
type DiscountType string

const (
	TypePercentage  DiscountType = "percentage"
	TypeFixedAmount DiscountType = "fixed_amount"
)

// TargetMode selects which customers a scheme addresses.
type TargetMode string

const (
	TargetAll               TargetMode = "all"
	TargetSpecificCustomers TargetMode = "specific_customers"
	TargetCustomerType      TargetMode = "customer_type"
)

// Targeting is the parsed audience of a scheme.
type Targeting struct {
	Mode  TargetMode
	Types map[string]struct{}
}

// AllowsType reports whether a customer type is in the allowed set.
func (t Targeting) AllowsType(customerType string) bool {
	_, ok := t.Types[normaliseType(customerType)]
	return ok
}

// Scheme is a discount rule valid over a date range.
type Scheme struct {
	ID                int64
	OrgID             int64
	Name              string
	Type              DiscountType
	Value             decimal.Decimal
	MinOrderValue     decimal.Decimal
	MinQuantity       int64
	MaxDiscountAmount decimal.NullDecimal
	UsageLimit        *int64
	PerCustomerLimit  *int64
	UsageCount        int64
	ValidFrom         time.Time
	ValidUntil        time.Time
	Targeting         Targeting
}

// CustomerUsage is the DiscountCustomer row: explicit enrolment plus usage counter.
type CustomerUsage struct {
	OrgID      int64
	SchemeID   int64
	CustomerID int64
	UsageCount int64
}

// Customer is the directory view needed for eligibility.
type Customer struct {
	ID    int64
	OrgID int64
	Name  string
	Type  string
}

// OrderContext is the order being priced.
type OrderContext struct {
	OrgID       int64
	OrderID     int64
	Customer    Customer
	GrossAmount decimal.Decimal
	ActorID     int64
}

// Line is a priced order line.
type Line struct {
	BatchID   int64
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// Applied records a discount granted to an order.
type Applied struct {
	ID         int64
	OrgID      int64
	OrderID    int64
	SchemeID   int64
	CustomerID int64
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// Application is the stacked outcome over all schemes.
type Application struct {
	Total   decimal.Decimal
	Applied []Applied
}

var (
	// ErrUsageNotFound indicates no DiscountCustomer row exists.
	ErrUsageNotFound = errors.New("discounts: customer usage not found")
	// ErrCustomerNotFound indicates the customer is unknown to the organisation.
	ErrCustomerNotFound = errors.New("discounts: customer not found")
)
