package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAdvances(ctx context.Context, orgID, customerID int64) ([]Advance, error)
	ListAllocationsByOrder(ctx context.Context, orgID, orderID int64) ([]Allocation, error)
	GetOrderRef(ctx context.Context, orgID, orderID int64) (OrderRef, error)
	GetOutstanding(ctx context.Context, orgID, orderID int64) (Outstanding, error)
}

// Service allocates customer money across orders and advances.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditRecorder
	idempotency shared.IdempotencyGuard
	now         func() time.Time
	logger      *slog.Logger
}

// NewService builds Service. audit and idempotency may be nil.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, idem shared.IdempotencyGuard, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, now: now, logger: logger}
}

// Allocate records a payment and spreads it over the given orders in caller order.
// Whatever is left becomes a customer advance.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (AllocationResult, error) {
	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = shared.IdempotencyKey(input.OrgID, "payments", input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "payments"); err != nil {
			return AllocationResult{}, err
		}
	}
	var result AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.AllocateInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		return AllocationResult{}, err
	}
	s.recordAudit(ctx, input.OrgID, input.ActorID, "payments:allocate", "payment", result.Payment.ID, map[string]any{
		"customer_id": input.CustomerID,
		"amount":      input.Amount.String(),
		"orders":      len(result.Orders),
		"advance":     result.Advance != nil,
	})
	return result, nil
}

// AllocateInTx is Allocate bound to a caller supplied transaction.
func (s *Service) AllocateInTx(ctx context.Context, tx TxRepository, input AllocateInput) (AllocationResult, error) {
	if err := validateAllocate(input); err != nil {
		return AllocationResult{}, err
	}
	now := s.now()
	payment := Payment{
		OrgID:      input.OrgID,
		CustomerID: input.CustomerID,
		Reference:  input.Reference,
		Amount:     input.Amount,
		Mode:       input.Mode,
		Kind:       input.Kind,
		ReceivedAt: now,
		ActorID:    input.ActorID,
	}
	if payment.Kind == "" {
		payment.Kind = KindOrder
	}
	if payment.Reference == "" {
		payment.Reference = "PAY-" + uuid.NewString()
	}
	id, err := tx.InsertPayment(ctx, payment)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("payments: insert payment: %w", err)
	}
	payment.ID = id
	result := AllocationResult{Payment: payment}

	remaining := input.Amount
	if payment.Kind == KindOrder {
		for _, orderID := range input.OrderIDs {
			if !remaining.IsPositive() {
				break
			}
			order, err := s.lockOrder(ctx, tx, input.OrgID, input.CustomerID, orderID)
			if err != nil {
				return AllocationResult{}, err
			}
			allocated, err := tx.SumAllocatedForOrder(ctx, input.OrgID, orderID)
			if err != nil {
				return AllocationResult{}, fmt.Errorf("payments: sum allocations: %w", err)
			}
			outstanding := order.FinalAmount.Sub(allocated)
			if !outstanding.IsPositive() {
				continue
			}
			take := decimal.Min(remaining, outstanding)
			alloc := Allocation{OrgID: input.OrgID, PaymentID: payment.ID, OrderID: orderID, Amount: take, CreatedAt: now}
			if alloc.ID, err = tx.InsertAllocation(ctx, alloc); err != nil {
				return AllocationResult{}, fmt.Errorf("payments: insert allocation: %w", err)
			}
			remaining = remaining.Sub(take)
			status := DerivePaymentStatus(order.FinalAmount, allocated.Add(take))
			if err := tx.UpdateOrderPaymentStatus(ctx, input.OrgID, orderID, status); err != nil {
				return AllocationResult{}, fmt.Errorf("payments: update order status: %w", err)
			}
			result.Allocations = append(result.Allocations, alloc)
			result.Orders = append(result.Orders, OrderSettlement{OrderID: orderID, Allocated: take, Status: status})
		}
	}

	if remaining.IsPositive() {
		adv := Advance{
			OrgID:           input.OrgID,
			CustomerID:      input.CustomerID,
			PaymentID:       payment.ID,
			Amount:          remaining,
			UsedAmount:      decimal.Zero,
			RemainingAmount: remaining,
			Status:          AdvanceActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if adv.ID, err = tx.InsertAdvance(ctx, adv); err != nil {
			return AllocationResult{}, fmt.Errorf("payments: insert advance: %w", err)
		}
		result.Advance = &adv
	}

	if err := s.OnPaymentReceivedInTx(ctx, tx, input.OrgID, payment.ID); err != nil {
		return AllocationResult{}, err
	}
	return result, nil
}

// ApplyAdvance settles an order from the customer's active advances, oldest first.
func (s *Service) ApplyAdvance(ctx context.Context, input ApplyAdvanceInput) (ApplyAdvanceResult, error) {
	var result ApplyAdvanceResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.ApplyAdvanceInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return ApplyAdvanceResult{}, err
	}
	if result.Applied.IsPositive() {
		s.recordAudit(ctx, input.OrgID, input.ActorID, "payments:apply_advance", "order", input.OrderID, map[string]any{
			"customer_id": input.CustomerID,
			"applied":     result.Applied.String(),
			"shortfall":   result.Shortfall.String(),
		})
	}
	return result, nil
}

// ApplyAdvanceInTx is ApplyAdvance bound to a caller supplied transaction.
func (s *Service) ApplyAdvanceInTx(ctx context.Context, tx TxRepository, input ApplyAdvanceInput) (ApplyAdvanceResult, error) {
	switch {
	case input.OrgID <= 0:
		return ApplyAdvanceResult{}, shared.Invalid("org_id", "required")
	case input.CustomerID <= 0:
		return ApplyAdvanceResult{}, shared.Invalid("customer_id", "required")
	case input.OrderID <= 0:
		return ApplyAdvanceResult{}, shared.Invalid("order_id", "required")
	case !input.Amount.IsPositive():
		return ApplyAdvanceResult{}, shared.Invalid("amount", "must be positive")
	}
	order, err := s.lockOrder(ctx, tx, input.OrgID, input.CustomerID, input.OrderID)
	if err != nil {
		return ApplyAdvanceResult{}, err
	}
	allocated, err := tx.SumAllocatedForOrder(ctx, input.OrgID, input.OrderID)
	if err != nil {
		return ApplyAdvanceResult{}, fmt.Errorf("payments: sum allocations: %w", err)
	}
	outstanding := order.FinalAmount.Sub(allocated)
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	result := ApplyAdvanceResult{
		Requested:  input.Amount,
		Applicable: decimal.Min(input.Amount, outstanding),
		Applied:    decimal.Zero,
		Status:     DerivePaymentStatus(order.FinalAmount, allocated),
	}
	remaining := result.Applicable
	if remaining.IsPositive() {
		advances, err := tx.ListActiveAdvancesForUpdate(ctx, input.OrgID, input.CustomerID)
		if err != nil {
			return ApplyAdvanceResult{}, fmt.Errorf("payments: list advances: %w", err)
		}
		now := s.now()
		var allocations []Allocation
		for _, adv := range advances {
			if !remaining.IsPositive() {
				break
			}
			take, updated := consume(adv, remaining, now)
			if take.IsZero() {
				continue
			}
			if err := tx.UpdateAdvance(ctx, updated); err != nil {
				return ApplyAdvanceResult{}, fmt.Errorf("payments: update advance: %w", err)
			}
			alloc := Allocation{OrgID: input.OrgID, PaymentID: adv.PaymentID, OrderID: input.OrderID, Amount: take, CreatedAt: now}
			if alloc.ID, err = tx.InsertAllocation(ctx, alloc); err != nil {
				return ApplyAdvanceResult{}, fmt.Errorf("payments: insert allocation: %w", err)
			}
			usage := AdvanceUsage{OrgID: input.OrgID, AdvanceID: adv.ID, OrderID: input.OrderID, Amount: take, ActorID: input.ActorID, CreatedAt: now}
			if usage.ID, err = tx.InsertAdvanceUsage(ctx, usage); err != nil {
				return ApplyAdvanceResult{}, fmt.Errorf("payments: insert advance usage: %w", err)
			}
			allocations = append(allocations, alloc)
			result.Usages = append(result.Usages, usage)
			remaining = remaining.Sub(take)
		}
		result.Applied = result.Applicable.Sub(remaining)
		if result.Applied.IsPositive() {
			result.Status = DerivePaymentStatus(order.FinalAmount, allocated.Add(result.Applied))
			if err := tx.UpdateOrderPaymentStatus(ctx, input.OrgID, input.OrderID, result.Status); err != nil {
				return ApplyAdvanceResult{}, fmt.Errorf("payments: update order status: %w", err)
			}
			if err := s.settle(ctx, tx, input.OrgID, input.CustomerID, allocations); err != nil {
				return ApplyAdvanceResult{}, err
			}
		}
	}
	result.Shortfall = result.Applicable.Sub(result.Applied)
	return result, nil
}

// RecomputeOrderPaymentStatus re-derives and stores an order's payment status.
func (s *Service) RecomputeOrderPaymentStatus(ctx context.Context, orgID, orderID int64) (PaymentStatus, error) {
	var status PaymentStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		status, err = s.RecomputeOrderPaymentStatusInTx(ctx, tx, orgID, orderID)
		return err
	})
	return status, err
}

// RecomputeOrderPaymentStatusInTx is RecomputeOrderPaymentStatus inside a caller transaction.
func (s *Service) RecomputeOrderPaymentStatusInTx(ctx context.Context, tx TxRepository, orgID, orderID int64) (PaymentStatus, error) {
	order, err := s.lockOrder(ctx, tx, orgID, 0, orderID)
	if err != nil {
		return "", err
	}
	allocated, err := tx.SumAllocatedForOrder(ctx, orgID, orderID)
	if err != nil {
		return "", fmt.Errorf("payments: sum allocations: %w", err)
	}
	status := DerivePaymentStatus(order.FinalAmount, allocated)
	if err := tx.UpdateOrderPaymentStatus(ctx, orgID, orderID, status); err != nil {
		return "", fmt.Errorf("payments: update order status: %w", err)
	}
	return status, nil
}

// OnPaymentReceived syncs credit exposure and receivables with a payment's allocations.
func (s *Service) OnPaymentReceived(ctx context.Context, orgID, paymentID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.OnPaymentReceivedInTx(ctx, tx, orgID, paymentID)
	})
}

// OnPaymentReceivedInTx is OnPaymentReceived inside a caller transaction.
func (s *Service) OnPaymentReceivedInTx(ctx context.Context, tx TxRepository, orgID, paymentID int64) error {
	payment, err := tx.GetPayment(ctx, orgID, paymentID)
	if errors.Is(err, ErrPaymentNotFound) {
		return shared.NotFound("payment", paymentID)
	}
	if err != nil {
		return fmt.Errorf("payments: get payment: %w", err)
	}
	allocations, err := tx.ListAllocationsByPayment(ctx, orgID, paymentID)
	if err != nil {
		return fmt.Errorf("payments: list allocations: %w", err)
	}
	return s.settle(ctx, tx, orgID, payment.CustomerID, allocations)
}

// OpenOutstandingInTx records the initial receivable of a freshly placed order and
// adds its amount to the customer's credit exposure.
func (s *Service) OpenOutstandingInTx(ctx context.Context, tx TxRepository, order OrderRef) (Outstanding, error) {
	out := DeriveOutstanding(order, decimal.Zero, s.now())
	if err := tx.UpsertOutstanding(ctx, out); err != nil {
		return Outstanding{}, fmt.Errorf("payments: upsert outstanding: %w", err)
	}
	credit, err := tx.GetCustomerCreditForUpdate(ctx, order.OrgID, order.CustomerID)
	if errors.Is(err, ErrCreditNotFound) {
		return out, nil
	}
	if err != nil {
		return Outstanding{}, fmt.Errorf("payments: lock credit: %w", err)
	}
	if err := tx.UpdateCustomerCreditUsed(ctx, order.OrgID, order.CustomerID, credit.CreditUsed.Add(order.FinalAmount)); err != nil {
		return Outstanding{}, fmt.Errorf("payments: update credit: %w", err)
	}
	return out, nil
}

// AdvanceBalance lists a customer's advances and their remaining total.
func (s *Service) AdvanceBalance(ctx context.Context, orgID, customerID int64) (AdvanceBalance, error) {
	advances, err := s.repo.ListAdvances(ctx, orgID, customerID)
	if err != nil {
		return AdvanceBalance{}, fmt.Errorf("payments: list advances: %w", err)
	}
	bal := AdvanceBalance{CustomerID: customerID, Remaining: decimal.Zero, Advances: advances}
	for _, adv := range advances {
		if adv.Status == AdvanceActive {
			bal.Remaining = bal.Remaining.Add(adv.RemainingAmount)
		}
	}
	return bal, nil
}

// OrderSummary reports an order's allocations and settlement state.
func (s *Service) OrderSummary(ctx context.Context, orgID, orderID int64) (OrderSummary, error) {
	order, err := s.repo.GetOrderRef(ctx, orgID, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return OrderSummary{}, shared.NotFound("order", orderID)
	}
	if err != nil {
		return OrderSummary{}, fmt.Errorf("payments: get order: %w", err)
	}
	allocations, err := s.repo.ListAllocationsByOrder(ctx, orgID, orderID)
	if err != nil {
		return OrderSummary{}, fmt.Errorf("payments: list allocations: %w", err)
	}
	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}
	out := DeriveOutstanding(order, allocated, s.now())
	return OrderSummary{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		FinalAmount: order.FinalAmount,
		Allocated:   allocated,
		Outstanding: out.OutstandingAmount,
		Status:      out.Status,
		Allocations: allocations,
	}, nil
}

// settle lowers credit exposure by the allocated total and refreshes each touched receivable.
func (s *Service) settle(ctx context.Context, tx TxRepository, orgID, customerID int64, allocations []Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	total := decimal.Zero
	var orderIDs []int64
	seen := make(map[int64]bool)
	for _, a := range allocations {
		total = total.Add(a.Amount)
		if !seen[a.OrderID] {
			seen[a.OrderID] = true
			orderIDs = append(orderIDs, a.OrderID)
		}
	}

	credit, err := tx.GetCustomerCreditForUpdate(ctx, orgID, customerID)
	switch {
	case errors.Is(err, ErrCreditNotFound):
	case err != nil:
		return fmt.Errorf("payments: lock credit: %w", err)
	default:
		used := credit.CreditUsed.Sub(total)
		if used.IsNegative() {
			used = decimal.Zero
		}
		if err := tx.UpdateCustomerCreditUsed(ctx, orgID, customerID, used); err != nil {
			return fmt.Errorf("payments: update credit: %w", err)
		}
	}

	now := s.now()
	for _, orderID := range orderIDs {
		order, err := s.lockOrder(ctx, tx, orgID, 0, orderID)
		if err != nil {
			return err
		}
		paid, err := tx.SumAllocatedForOrder(ctx, orgID, orderID)
		if err != nil {
			return fmt.Errorf("payments: sum allocations: %w", err)
		}
		if err := tx.UpsertOutstanding(ctx, DeriveOutstanding(order, paid, now)); err != nil {
			return fmt.Errorf("payments: upsert outstanding: %w", err)
		}
	}
	return nil
}

// lockOrder loads an order under row lock. A positive customerID must own the order.
func (s *Service) lockOrder(ctx context.Context, tx TxRepository, orgID, customerID, orderID int64) (OrderRef, error) {
	order, err := tx.GetOrderForPayment(ctx, orgID, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return OrderRef{}, shared.NotFound("order", orderID)
	}
	if err != nil {
		return OrderRef{}, fmt.Errorf("payments: lock order: %w", err)
	}
	if customerID > 0 && order.CustomerID != customerID {
		return OrderRef{}, shared.Invalid("order_ids", fmt.Sprintf("order %d belongs to another customer", orderID))
	}
	return order, nil
}

func (s *Service) recordAudit(ctx context.Context, orgID, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("payments audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func validateAllocate(input AllocateInput) error {
	if input.OrgID <= 0 {
		return shared.Invalid("org_id", "required")
	}
	if input.CustomerID <= 0 {
		return shared.Invalid("customer_id", "required")
	}
	if !input.Amount.IsPositive() {
		return shared.Invalid("amount", "must be positive")
	}
	if input.Kind != "" && input.Kind != KindOrder && input.Kind != KindAdvance {
		return shared.Invalid("kind", fmt.Sprintf("unknown kind %q", input.Kind))
	}
	seen := make(map[int64]bool, len(input.OrderIDs))
	for _, id := range input.OrderIDs {
		if id <= 0 {
			return shared.Invalid("order_ids", "must be positive")
		}
		if seen[id] {
			return shared.Invalid("order_ids", fmt.Sprintf("order %d listed twice", id))
		}
		seen[id] = true
	}
	return nil
}
