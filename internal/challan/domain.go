package challan

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// STATE MACHINE
// ============================================================================

// State is the lifecycle position of a challan.
type State string

const (
	StatePrepared   State = "prepared"
	StateDispatched State = "dispatched"
	StateDelivered  State = "delivered"
	StateCancelled  State = "cancelled"
)

// IsValid checks if the state is known.
func (s State) IsValid() bool {
	switch s {
	case StatePrepared, StateDispatched, StateDelivered, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further action is possible.
func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// Action drives a transition.
type Action string

const (
	ActionDispatch Action = "dispatch"
	ActionDeliver  Action = "deliver"
	ActionCancel   Action = "cancel"
)

// Order statuses written back by the challan flow.
const (
	OrderConfirmed  = "confirmed"
	OrderDispatched = "dispatched"
	OrderDelivered  = "delivered"
)

// ============================================================================
// ENTITIES
// ============================================================================

// Transport holds carrier details captured at dispatch.
type Transport struct {
	VehicleNumber string `json:"vehicle_number,omitempty"`
	DriverName    string `json:"driver_name,omitempty"`
	DriverPhone   string `json:"driver_phone,omitempty"`
	Transporter   string `json:"transporter,omitempty"`
	LRNumber      string `json:"lr_number,omitempty"`
}

// Challan is a delivery note covering some or all lines of an order.
type Challan struct {
	ID           int64           `json:"id"`
	OrgID        int64           `json:"org_id"`
	OrderID      int64           `json:"order_id"`
	Number       string          `json:"number"`
	State        State           `json:"state"`
	PackageCount int64           `json:"package_count"`
	TotalWeight  decimal.Decimal `json:"total_weight"`
	Transport    Transport       `json:"transport"`
	Notes        string          `json:"notes,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Items        []Item          `json:"items,omitempty"`
}

// Item is one challan line bound to an order line and batch.
type Item struct {
	ID                 int64           `json:"id"`
	ChallanID          int64           `json:"challan_id"`
	OrderLineID        int64           `json:"order_line_id"`
	BatchID            int64           `json:"batch_id"`
	ProductID          int64           `json:"product_id"`
	OrderedQuantity    int64           `json:"ordered_quantity"`
	DispatchedQuantity int64           `json:"dispatched_quantity"`
	PendingQuantity    int64           `json:"pending_quantity"`
	Packages           int64           `json:"packages"`
	Weight             decimal.Decimal `json:"weight"`
}

// TrackingEvent is one entry of the challan history.
type TrackingEvent struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	ChallanID int64     `json:"challan_id"`
	State     State     `json:"state"`
	Location  string    `json:"location"`
	Note      string    `json:"note,omitempty"`
	ActorID   int64     `json:"actor_id"`
	At        time.Time `json:"at"`
}

// DeliveryConfirmation captures proof of delivery.
type DeliveryConfirmation struct {
	ID          int64     `json:"id"`
	OrgID       int64     `json:"org_id"`
	ChallanID   int64     `json:"challan_id"`
	ReceivedBy  string    `json:"received_by"`
	Satisfied   bool      `json:"satisfied"`
	Notes       string    `json:"notes,omitempty"`
	Method      string    `json:"method"`
	ActorID     int64     `json:"actor_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// OrderLineRef is the order line data a challan is built from.
type OrderLineRef struct {
	ID         int64
	BatchID    int64
	ProductID  int64
	Quantity   int64
	PackSize   int64
	UnitWeight decimal.Decimal
}

// OrderForChallan is the order view needed to prepare a challan.
type OrderForChallan struct {
	ID     int64
	OrgID  int64
	Status string
	Lines  []OrderLineRef
}

// ============================================================================
// INPUTS
// ============================================================================

// CreateInput prepares a challan. Partial maps order line id to the quantity to ship.
type CreateInput struct {
	OrgID   int64
	OrderID int64
	ActorID int64
	Partial map[int64]int64
	Notes   string
}

// DispatchInput moves a prepared challan out of the warehouse.
type DispatchInput struct {
	OrgID     int64
	ChallanID int64
	ActorID   int64
	Transport Transport
	Location  string
	Note      string
}

// DeliverInput confirms receipt by the customer.
type DeliverInput struct {
	OrgID      int64
	ChallanID  int64
	ActorID    int64
	ReceivedBy string
	Satisfied  bool
	Notes      string
	Method     string
	Location   string
}

// CancelInput cancels a challan with a mandatory reason.
type CancelInput struct {
	OrgID     int64
	ChallanID int64
	ActorID   int64
	Reason    string
}

var (
	// ErrChallanNotFound indicates a missing challan row.
	ErrChallanNotFound = errors.New("challan: not found")
	// ErrOrderNotFound indicates the parent order is missing.
	ErrOrderNotFound = errors.New("challan: order not found")
)
