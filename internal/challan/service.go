package challan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetChallan(ctx context.Context, orgID, challanID int64) (Challan, error)
	ListTracking(ctx context.Context, orgID, challanID int64) ([]TrackingEvent, error)
}

// InventoryService posts stock movements inside the challan transaction.
type InventoryService interface {
	RecordTransactionInTx(ctx context.Context, tx inventory.TxRepository, input inventory.MovementInput) (inventory.Movement, error)
	RecordAudit(ctx context.Context, mv inventory.Movement)
}

// Service runs the challan lifecycle.
type Service struct {
	repo      RepositoryPort
	inventory InventoryService
	audit     shared.AuditRecorder
	now       func() time.Time
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryService, audit shared.AuditRecorder, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, now: now, logger: logger}
}

// Create prepares a challan from the order's lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (Challan, error) {
	if input.OrgID <= 0 || input.OrderID <= 0 {
		return Challan{}, shared.Invalid("order_id", "required")
	}
	var ch Challan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForChallan(ctx, input.OrgID, input.OrderID)
		if errors.Is(err, ErrOrderNotFound) {
			return shared.NotFound("order", input.OrderID)
		}
		if err != nil {
			return fmt.Errorf("challan: get order: %w", err)
		}
		if order.Status != OrderConfirmed && order.Status != OrderDispatched {
			return &shared.TransitionError{Entity: "order", From: order.Status, Action: "create_challan"}
		}
		items, err := BuildItems(order.Lines, input.Partial)
		if err != nil {
			return err
		}
		now := s.now()
		count, weight := Totals(items)
		ch = Challan{
			OrgID:        input.OrgID,
			OrderID:      input.OrderID,
			Number:       fmt.Sprintf("DC-%s", strings.ToUpper(uuid.NewString()[:8])),
			State:        StatePrepared,
			PackageCount: count,
			TotalWeight:  weight,
			Notes:        input.Notes,
			CreatedBy:    input.ActorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if ch.ID, err = tx.InsertChallan(ctx, ch); err != nil {
			return fmt.Errorf("challan: insert: %w", err)
		}
		for i := range items {
			items[i].ChallanID = ch.ID
			if items[i].ID, err = tx.InsertChallanItem(ctx, items[i]); err != nil {
				return fmt.Errorf("challan: insert item: %w", err)
			}
		}
		ch.Items = items
		return s.track(ctx, tx, ch, "Warehouse", "challan prepared", input.ActorID, now)
	})
	if err != nil {
		return Challan{}, err
	}
	s.recordAudit(ctx, ch, input.ActorID, "challan:create", nil)
	return ch, nil
}

// Dispatch ships a prepared challan and posts one dispatch movement per shipped line.
func (s *Service) Dispatch(ctx context.Context, input DispatchInput) (Challan, error) {
	var (
		ch        Challan
		movements []inventory.Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ch, err = s.lockForAction(ctx, tx, input.OrgID, input.ChallanID, ActionDispatch)
		if err != nil {
			return err
		}
		now := s.now()
		ch.State = StateDispatched
		ch.DispatchedAt = &now
		ch.Transport = mergeTransport(ch.Transport, input.Transport)
		ch.UpdatedAt = now
		if err := tx.UpdateChallan(ctx, ch); err != nil {
			return fmt.Errorf("challan: update: %w", err)
		}
		location := input.Location
		if location == "" {
			location = "In transit"
		}
		if err := s.track(ctx, tx, ch, location, input.Note, input.ActorID, now); err != nil {
			return err
		}
		if err := tx.SetOrderStatus(ctx, ch.OrgID, ch.OrderID, OrderDispatched); err != nil {
			return fmt.Errorf("challan: set order status: %w", err)
		}
		movements, err = s.postMovements(ctx, tx, ch, inventory.KindDispatch, -1, input.ActorID)
		return err
	})
	if err != nil {
		return Challan{}, err
	}
	s.auditMovements(ctx, movements)
	s.recordAudit(ctx, ch, input.ActorID, "challan:dispatch", map[string]any{"vehicle": ch.Transport.VehicleNumber})
	return ch, nil
}

// Deliver records proof of delivery for a dispatched challan.
func (s *Service) Deliver(ctx context.Context, input DeliverInput) (Challan, error) {
	if strings.TrimSpace(input.Method) == "" {
		return Challan{}, shared.Invalid("method", "required")
	}
	var ch Challan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ch, err = s.lockForAction(ctx, tx, input.OrgID, input.ChallanID, ActionDeliver)
		if err != nil {
			return err
		}
		now := s.now()
		ch.State = StateDelivered
		ch.DeliveredAt = &now
		ch.UpdatedAt = now
		if err := tx.UpdateChallan(ctx, ch); err != nil {
			return fmt.Errorf("challan: update: %w", err)
		}
		confirmation := DeliveryConfirmation{
			OrgID:       ch.OrgID,
			ChallanID:   ch.ID,
			ReceivedBy:  input.ReceivedBy,
			Satisfied:   input.Satisfied,
			Notes:       input.Notes,
			Method:      input.Method,
			ActorID:     input.ActorID,
			ConfirmedAt: now,
		}
		if _, err := tx.InsertDeliveryConfirmation(ctx, confirmation); err != nil {
			return fmt.Errorf("challan: insert confirmation: %w", err)
		}
		location := input.Location
		if location == "" {
			location = "Customer premises"
		}
		if err := s.track(ctx, tx, ch, location, input.Notes, input.ActorID, now); err != nil {
			return err
		}
		if err := tx.SetOrderStatus(ctx, ch.OrgID, ch.OrderID, OrderDelivered); err != nil {
			return fmt.Errorf("challan: set order status: %w", err)
		}
		return nil
	})
	if err != nil {
		return Challan{}, err
	}
	s.recordAudit(ctx, ch, input.ActorID, "challan:deliver", map[string]any{"satisfied": input.Satisfied})
	return ch, nil
}

// Cancel cancels a prepared or dispatched challan. Cancelling after dispatch returns
// the shipped stock and reopens the order.
func (s *Service) Cancel(ctx context.Context, input CancelInput) (Challan, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return Challan{}, shared.Invalid("reason", "required")
	}
	var (
		ch        Challan
		movements []inventory.Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ch, err = s.lockForAction(ctx, tx, input.OrgID, input.ChallanID, ActionCancel)
		if err != nil {
			return err
		}
		wasDispatched := ch.State == StateDispatched
		now := s.now()
		ch.State = StateCancelled
		ch.CancelledAt = &now
		ch.CancelReason = input.Reason
		ch.UpdatedAt = now
		if err := tx.UpdateChallan(ctx, ch); err != nil {
			return fmt.Errorf("challan: update: %w", err)
		}
		if err := s.track(ctx, tx, ch, "Warehouse", input.Reason, input.ActorID, now); err != nil {
			return err
		}
		if !wasDispatched {
			return nil
		}
		if err := tx.SetOrderStatus(ctx, ch.OrgID, ch.OrderID, OrderConfirmed); err != nil {
			return fmt.Errorf("challan: set order status: %w", err)
		}
		movements, err = s.postMovements(ctx, tx, ch, inventory.KindReturn, 1, input.ActorID)
		return err
	})
	if err != nil {
		return Challan{}, err
	}
	s.auditMovements(ctx, movements)
	s.recordAudit(ctx, ch, input.ActorID, "challan:cancel", map[string]any{"reason": input.Reason})
	return ch, nil
}

// Get returns a challan with its items.
func (s *Service) Get(ctx context.Context, orgID, challanID int64) (Challan, error) {
	ch, err := s.repo.GetChallan(ctx, orgID, challanID)
	if errors.Is(err, ErrChallanNotFound) {
		return Challan{}, shared.NotFound("challan", challanID)
	}
	return ch, err
}

// Tracking returns the challan history, oldest first.
func (s *Service) Tracking(ctx context.Context, orgID, challanID int64) ([]TrackingEvent, error) {
	if _, err := s.Get(ctx, orgID, challanID); err != nil {
		return nil, err
	}
	return s.repo.ListTracking(ctx, orgID, challanID)
}

func (s *Service) lockForAction(ctx context.Context, tx TxRepository, orgID, challanID int64, action Action) (Challan, error) {
	ch, err := tx.GetChallanForUpdate(ctx, orgID, challanID)
	if errors.Is(err, ErrChallanNotFound) {
		return Challan{}, shared.NotFound("challan", challanID)
	}
	if err != nil {
		return Challan{}, fmt.Errorf("challan: lock: %w", err)
	}
	if _, err := Next(ch.State, action); err != nil {
		return Challan{}, err
	}
	return ch, nil
}

func (s *Service) track(ctx context.Context, tx TxRepository, ch Challan, location, note string, actorID int64, at time.Time) error {
	_, err := tx.InsertTrackingEvent(ctx, TrackingEvent{
		OrgID:     ch.OrgID,
		ChallanID: ch.ID,
		State:     ch.State,
		Location:  location,
		Note:      note,
		ActorID:   actorID,
		At:        at,
	})
	if err != nil {
		return fmt.Errorf("challan: insert tracking: %w", err)
	}
	return nil
}

// postMovements books one movement per item with a shipped quantity. sign is -1 for
// dispatch and +1 for the compensating return.
func (s *Service) postMovements(ctx context.Context, tx TxRepository, ch Challan, kind inventory.Kind, sign int64, actorID int64) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, it := range ch.Items {
		if it.DispatchedQuantity <= 0 {
			continue
		}
		mv, err := s.inventory.RecordTransactionInTx(ctx, tx.Inventory(), inventory.MovementInput{
			OrgID:       ch.OrgID,
			BatchID:     it.BatchID,
			Kind:        kind,
			Quantity:    sign * it.DispatchedQuantity,
			Reference:   ch.Number,
			ActorID:     actorID,
			Remark:      fmt.Sprintf("challan %s %s", ch.Number, kind),
			IsAutomatic: true,
		})
		if err != nil {
			return nil, fmt.Errorf("challan %s line %d: %w", ch.Number, it.OrderLineID, err)
		}
		out = append(out, mv)
	}
	return out, nil
}

func (s *Service) auditMovements(ctx context.Context, movements []inventory.Movement) {
	for _, mv := range movements {
		s.inventory.RecordAudit(ctx, mv)
	}
}

func (s *Service) recordAudit(ctx context.Context, ch Challan, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["order_id"] = ch.OrderID
	meta["state"] = ch.State
	err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    ch.OrgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "challan",
		EntityID: ch.Number,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("challan audit failed", slog.String("challan", ch.Number), slog.Any("error", err))
	}
}

func mergeTransport(current, update Transport) Transport {
	if update.VehicleNumber != "" {
		current.VehicleNumber = update.VehicleNumber
	}
	if update.DriverName != "" {
		current.DriverName = update.DriverName
	}
	if update.DriverPhone != "" {
		current.DriverPhone = update.DriverPhone
	}
	if update.Transporter != "" {
		current.Transporter = update.Transporter
	}
	if update.LRNumber != "" {
		current.LRNumber = update.LRNumber
	}
	return current
}
