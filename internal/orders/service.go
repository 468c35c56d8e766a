package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, orgID, orderID int64) (Order, error)
}

// InventoryService posts sale movements inside the order transaction.
type InventoryService interface {
	RecordTransactionInTx(ctx context.Context, tx inventory.TxRepository, input inventory.MovementInput) (inventory.Movement, error)
	RecordAudit(ctx context.Context, mv inventory.Movement)
}

// DiscountService prices the order.
type DiscountService interface {
	ApplyEligibleInTx(ctx context.Context, tx discounts.TxRepository, order discounts.OrderContext, lines []discounts.Line) (discounts.Application, error)
}

// PaymentService opens the receivable.
type PaymentService interface {
	OpenOutstandingInTx(ctx context.Context, tx payments.TxRepository, order payments.OrderRef) (payments.Outstanding, error)
}

// Service places orders.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryService
	discounts   DiscountService
	payments    PaymentService
	audit       shared.AuditRecorder
	idempotency shared.IdempotencyGuard
	now         func() time.Time
	logger      *slog.Logger
}

// Deps groups the collaborators of Service.
type Deps struct {
	Inventory   InventoryService
	Discounts   DiscountService
	Payments    PaymentService
	Audit       shared.AuditRecorder
	Idempotency shared.IdempotencyGuard
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		inventory:   deps.Inventory,
		discounts:   deps.Discounts,
		payments:    deps.Payments,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		now:         deps.Now,
		logger:      deps.Logger,
	}
}

// ProcessOrder creates a confirmed order, applies discounts, books a sale movement per
// line and opens the receivable, all in one transaction.
func (s *Service) ProcessOrder(ctx context.Context, input PlaceOrderInput, actorID int64) (Placement, error) {
	if err := validatePlace(input); err != nil {
		return Placement{}, err
	}
	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = shared.IdempotencyKey(input.OrgID, "orders", input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "orders"); err != nil {
			return Placement{}, err
		}
	}
	var placement Placement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		placement, err = s.process(ctx, tx, input, actorID)
		return err
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.logger.Info("order rejected", slog.Int64("org_id", input.OrgID), slog.Int64("customer_id", input.CustomerID), slog.Any("error", err))
		return Placement{}, err
	}
	for _, mv := range placement.Movements {
		s.inventory.RecordAudit(ctx, mv)
	}
	s.recordAudit(ctx, placement.Order, actorID)
	return placement, nil
}

func (s *Service) process(ctx context.Context, tx TxRepository, input PlaceOrderInput, actorID int64) (Placement, error) {
	customer, err := tx.Discounts().GetCustomer(ctx, input.OrgID, input.CustomerID)
	if errors.Is(err, discounts.ErrCustomerNotFound) {
		return Placement{}, shared.NotFound("customer", input.CustomerID)
	}
	if err != nil {
		return Placement{}, fmt.Errorf("orders: get customer: %w", err)
	}

	now := s.now()
	order := Order{
		OrgID:          input.OrgID,
		Number:         fmt.Sprintf("SO-%s", strings.ToUpper(uuid.NewString()[:8])),
		CustomerID:     customer.ID,
		Status:         StatusConfirmed,
		PaymentStatus:  payments.StatusPending,
		GrossAmount:    decimal.Zero,
		DiscountAmount: decimal.Zero,
		FinalAmount:    decimal.Zero,
		DueDate:        input.DueDate,
		Notes:          input.Notes,
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.ID, err = tx.InsertOrder(ctx, order); err != nil {
		return Placement{}, fmt.Errorf("orders: insert order: %w", err)
	}

	priced := make([]discounts.Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		batch, err := tx.Inventory().GetBatch(ctx, input.OrgID, in.BatchID)
		if errors.Is(err, inventory.ErrBatchNotFound) {
			return Placement{}, shared.NotFound("batch", in.BatchID)
		}
		if err != nil {
			return Placement{}, fmt.Errorf("orders: get batch: %w", err)
		}
		price := batch.SalePrice
		if in.UnitPrice.Valid {
			price = in.UnitPrice.Decimal
		}
		line := Line{
			OrderID:   order.ID,
			BatchID:   batch.ID,
			ProductID: batch.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: price,
			LineTotal: price.Mul(decimal.NewFromInt(in.Quantity)),
		}
		if line.ID, err = tx.InsertOrderLine(ctx, line); err != nil {
			return Placement{}, fmt.Errorf("orders: insert line: %w", err)
		}
		order.Lines = append(order.Lines, line)
		order.GrossAmount = order.GrossAmount.Add(line.LineTotal)
		priced = append(priced, discounts.Line{BatchID: line.BatchID, ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}

	app, err := s.discounts.ApplyEligibleInTx(ctx, tx.Discounts(), discounts.OrderContext{
		OrgID:       input.OrgID,
		OrderID:     order.ID,
		Customer:    customer,
		GrossAmount: order.GrossAmount,
		ActorID:     actorID,
	}, priced)
	if err != nil {
		return Placement{}, err
	}
	order.DiscountAmount = app.Total
	order.FinalAmount = order.GrossAmount.Sub(app.Total)
	if order.FinalAmount.IsNegative() {
		order.FinalAmount = decimal.Zero
	}
	if err := tx.UpdateOrderAmounts(ctx, order); err != nil {
		return Placement{}, fmt.Errorf("orders: update amounts: %w", err)
	}

	placement := Placement{Order: order, Discounts: app}
	for _, line := range order.Lines {
		mv, err := s.inventory.RecordTransactionInTx(ctx, tx.Inventory(), inventory.MovementInput{
			OrgID:       input.OrgID,
			BatchID:     line.BatchID,
			Kind:        inventory.KindSale,
			Quantity:    -line.Quantity,
			Reference:   order.Number,
			ActorID:     actorID,
			Remark:      fmt.Sprintf("order %s", order.Number),
			IsAutomatic: true,
		})
		if err != nil {
			return Placement{}, err
		}
		placement.Movements = append(placement.Movements, mv)
	}

	placement.Outstanding, err = s.payments.OpenOutstandingInTx(ctx, tx.Payments(), payments.OrderRef{
		ID:            order.ID,
		OrgID:         order.OrgID,
		CustomerID:    order.CustomerID,
		FinalAmount:   order.FinalAmount,
		PaymentStatus: order.PaymentStatus,
		DueDate:       order.DueDate,
	})
	if err != nil {
		return Placement{}, err
	}
	return placement, nil
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, orgID, orderID int64) (Order, error) {
	order, err := s.repo.GetOrder(ctx, orgID, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, shared.NotFound("order", orderID)
	}
	return order, err
}

func (s *Service) recordAudit(ctx context.Context, order Order, actorID int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    order.OrgID,
		ActorID:  actorID,
		Action:   "orders:place",
		Entity:   "order",
		EntityID: order.Number,
		Meta: map[string]any{
			"customer_id": order.CustomerID,
			"gross":       order.GrossAmount.String(),
			"discount":    order.DiscountAmount.String(),
			"final":       order.FinalAmount.String(),
			"lines":       len(order.Lines),
		},
		At: order.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("orders audit failed", slog.String("order", order.Number), slog.Any("error", err))
	}
}

func validatePlace(input PlaceOrderInput) error {
	if input.OrgID <= 0 {
		return shared.Invalid("org_id", "required")
	}
	if input.CustomerID <= 0 {
		return shared.Invalid("customer_id", "required")
	}
	if len(input.Lines) == 0 {
		return shared.Invalid("lines", "at least one line required")
	}
	for _, l := range input.Lines {
		if l.BatchID <= 0 {
			return shared.Invalid("lines.batch_id", "required")
		}
		if l.Quantity <= 0 {
			return shared.Invalid("lines.quantity", "must be positive")
		}
		if l.UnitPrice.Valid && l.UnitPrice.Decimal.IsNegative() {
			return shared.Invalid("lines.unit_price", "must not be negative")
		}
	}
	return nil
}
