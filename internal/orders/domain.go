package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
)

// Status enumerates order lifecycle states.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusConfirmed  Status = "confirmed"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Order is a customer sales order.
type Order struct {
	ID             int64                  `json:"id"`
	OrgID          int64                  `json:"org_id"`
	Number         string                 `json:"number"`
	CustomerID     int64                  `json:"customer_id"`
	Status         Status                 `json:"status"`
	PaymentStatus  payments.PaymentStatus `json:"payment_status"`
	GrossAmount    decimal.Decimal        `json:"gross_amount"`
	DiscountAmount decimal.Decimal        `json:"discount_amount"`
	FinalAmount    decimal.Decimal        `json:"final_amount"`
	DueDate        *time.Time             `json:"due_date,omitempty"`
	Notes          string                 `json:"notes,omitempty"`
	CreatedBy      int64                  `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Lines          []Line                 `json:"lines,omitempty"`
}

// Line is one batch-bound order line.
type Line struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	BatchID   int64           `json:"batch_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// LineInput requests a quantity from a batch. UnitPrice defaults to the batch sale price.
type LineInput struct {
	BatchID   int64
	Quantity  int64
	UnitPrice decimal.NullDecimal
}

// PlaceOrderInput carries everything needed to place an order.
type PlaceOrderInput struct {
	OrgID          int64
	CustomerID     int64
	DueDate        *time.Time
	Notes          string
	Lines          []LineInput
	IdempotencyKey string
}

// Placement is the committed result of ProcessOrder.
type Placement struct {
	Order       Order                 `json:"order"`
	Discounts   discounts.Application `json:"discounts"`
	Movements   []inventory.Movement  `json:"movements"`
	Outstanding payments.Outstanding  `json:"outstanding"`
}

// ErrOrderNotFound indicates a missing order row.
var ErrOrderNotFound = errors.New("orders: order not found")
