package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind distinguishes order settlements from advance deposits.
type PaymentKind string

const (
	KindOrder   PaymentKind = "order"
	KindAdvance PaymentKind = "advance"
)

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

// AdvanceStatus tracks the life of a customer advance.
type AdvanceStatus string

const (
	AdvanceActive    AdvanceStatus = "active"
	AdvanceFullyUsed AdvanceStatus = "fully_used"
	AdvanceExpired   AdvanceStatus = "expired"
)

// Payment is money received from a customer.
type Payment struct {
	ID         int64
	OrgID      int64
	CustomerID int64
	Reference  string
	Amount     decimal.Decimal
	Mode       string
	Kind       PaymentKind
	ReceivedAt time.Time
	ActorID    int64
}

// Allocation ties part of a payment to one order.
type Allocation struct {
	ID        int64
	OrgID     int64
	PaymentID int64
	OrderID   int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Advance is unallocated customer money held for future orders.
type Advance struct {
	ID              int64
	OrgID           int64
	CustomerID      int64
	PaymentID       int64
	Amount          decimal.Decimal
	UsedAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          AdvanceStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AdvanceUsage records consumption of an advance by an order.
type AdvanceUsage struct {
	ID        int64
	OrgID     int64
	AdvanceID int64
	OrderID   int64
	Amount    decimal.Decimal
	ActorID   int64
	CreatedAt time.Time
}

// CustomerCredit holds the credit exposure counter of a customer.
type CustomerCredit struct {
	OrgID       int64
	CustomerID  int64
	CreditLimit decimal.Decimal
	CreditUsed  decimal.Decimal
}

// Outstanding is the receivable record of one order.
type Outstanding struct {
	OrgID             int64
	OrderID           int64
	CustomerID        int64
	TotalAmount       decimal.Decimal
	PaidAmount        decimal.Decimal
	OutstandingAmount decimal.Decimal
	Status            PaymentStatus
	DueDate           *time.Time
	UpdatedAt         time.Time
}

// OrderRef is the slice of an order the payment engine reads.
type OrderRef struct {
	ID            int64
	OrgID         int64
	CustomerID    int64
	FinalAmount   decimal.Decimal
	PaymentStatus PaymentStatus
	DueDate       *time.Time
}

// AllocateInput describes an incoming payment.
type AllocateInput struct {
	OrgID          int64
	CustomerID     int64
	Amount         decimal.Decimal
	Mode           string
	Kind           PaymentKind
	OrderIDs       []int64
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// OrderSettlement reports the effect of a payment on one order.
type OrderSettlement struct {
	OrderID   int64
	Allocated decimal.Decimal
	Status    PaymentStatus
}

// AllocationResult is the outcome of Allocate.
type AllocationResult struct {
	Payment     Payment
	Allocations []Allocation
	Orders      []OrderSettlement
	Advance     *Advance
}

// ApplyAdvanceInput requests settling an order from customer advances.
type ApplyAdvanceInput struct {
	OrgID      int64
	CustomerID int64
	OrderID    int64
	Amount     decimal.Decimal
	ActorID    int64
}

// ApplyAdvanceResult reports how much could be applied. A shortfall is not an error.
type ApplyAdvanceResult struct {
	Requested  decimal.Decimal
	Applicable decimal.Decimal
	Applied    decimal.Decimal
	Shortfall  decimal.Decimal
	Usages     []AdvanceUsage
	Status     PaymentStatus
}

// AdvanceBalance summarises a customer's advances.
type AdvanceBalance struct {
	CustomerID int64
	Remaining  decimal.Decimal
	Advances   []Advance
}

// OrderSummary is the read model of an order's settlement.
type OrderSummary struct {
	OrderID     int64
	CustomerID  int64
	FinalAmount decimal.Decimal
	Allocated   decimal.Decimal
	Outstanding decimal.Decimal
	Status      PaymentStatus
	Allocations []Allocation
}

var (
	// ErrOrderNotFound indicates the order is not visible to the organisation.
	ErrOrderNotFound = errors.New("payments: order not found")
	// ErrPaymentNotFound indicates a missing payment row.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrCreditNotFound indicates the customer has no credit row.
	ErrCreditNotFound = errors.New("payments: customer credit not found")
	// ErrOutstandingNotFound indicates no receivable row exists for the order.
	ErrOutstandingNotFound = errors.New("payments: outstanding record not found")
)
