package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates supported inventory movements.
type Kind string

const (
	// KindSale is an outbound movement booked when an order is placed.
	KindSale Kind = "sale"
	// KindPurchase is an inbound receipt.
	KindPurchase Kind = "purchase"
	// KindReturn restores stock (customer return or cancelled dispatch).
	KindReturn Kind = "return"
	// KindAdjustment is a manual correction of either sign.
	KindAdjustment Kind = "adjustment"
	// KindDispatch is the physical outbound movement of a challan.
	KindDispatch Kind = "dispatch"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindSale, KindPurchase, KindReturn, KindAdjustment, KindDispatch:
		return true
	default:
		return false
	}
}

// consumesAvailable marks kinds that must honour reservations.
func (k Kind) consumesAvailable() bool {
	return k == KindSale || k == KindDispatch
}

// Batch is a dated receipt lot of one product.
type Batch struct {
	ID              int64
	OrgID           int64
	ProductID       int64
	BatchNumber     string
	InitialQuantity int64
	ExpiryDate      time.Time
	CostPrice       decimal.Decimal
	SalePrice       decimal.Decimal
	CreatedAt       time.Time
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID             int64
	OrgID          int64
	BatchID        int64
	Kind           Kind
	QuantityChange int64
	QuantityBefore int64
	QuantityAfter  int64
	Reference      string
	ActorID        int64
	IsAutomatic    bool
	Remark         string
	CreatedAt      time.Time
}

// Status is the materialised per-batch projection of the ledger.
type Status struct {
	OrgID             int64
	BatchID           int64
	CurrentQuantity   int64
	ReservedQuantity  int64
	AvailableQuantity int64
	OutOfStock        bool
	LowStock          bool
	NeedsReorder      bool
	LastTransactionAt *time.Time
	UpdatedAt         time.Time
}

// Thresholds drive the derived stock flags.
type Thresholds struct {
	LowStock     int64
	ReorderLevel int64
}

// BatchStock pairs a batch with its projection, when one exists.
type BatchStock struct {
	Batch  Batch
	Status *Status
}

// MovementInput describes a ledger posting.
type MovementInput struct {
	OrgID       int64
	BatchID     int64
	Kind        Kind
	Quantity    int64
	Reference   string
	ActorID     int64
	Remark      string
	IsAutomatic bool
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	OrgID    int64
	BatchID  int64
	Quantity int64
	Reason   string
	ActorID  int64
}

// Movement is the outcome of a posting: the ledger row and the rebuilt projection.
type Movement struct {
	Transaction Transaction
	Status      Status
}

// FIFOPick is one batch recommendation.
type FIFOPick struct {
	BatchID     int64
	BatchNumber string
	ExpiryDate  time.Time
	Available   int64
	Quantity    int64
}

// FIFORecommendation is advisory; callers choose the batches they actually sell from.
type FIFORecommendation struct {
	ProductID  int64
	Required   int64
	Picks      []FIFOPick
	CanFulfill bool
	Shortage   int64
}

// AlertLevel classifies expiry proximity.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
	AlertExpired  AlertLevel = "EXPIRED"
)

// ExpiryAlert flags a batch that still holds stock close to or past expiry.
type ExpiryAlert struct {
	BatchID         int64
	ProductID       int64
	BatchNumber     string
	ExpiryDate      time.Time
	DaysToExpiry    int
	CurrentQuantity int64
	Level           AlertLevel
}

// ExpiryFilter pages through batches ordered by (expiry, id).
type ExpiryFilter struct {
	OrgID       int64
	Until       time.Time
	AfterExpiry time.Time
	AfterID     int64
	Limit       int
}

// TransactionFilter filters ledger rows for the stock card.
type TransactionFilter struct {
	OrgID   int64
	BatchID int64
	From    time.Time
	To      time.Time
	Limit   int
}

// ErrStatusNotFound indicates the batch has no projection row yet.
var ErrStatusNotFound = errors.New("inventory: batch status not found")

// ErrBatchNotFound indicates the batch does not exist in the organisation.
var ErrBatchNotFound = errors.New("inventory: batch not found")
