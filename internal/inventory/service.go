package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListProductBatches(ctx context.Context, orgID, productID int64) ([]BatchStock, error)
	ListExpiringBatches(ctx context.Context, filter ExpiryFilter) ([]BatchStock, error)
	ListBatchIDs(ctx context.Context, orgID int64) ([]int64, error)
	GetStatus(ctx context.Context, orgID, batchID int64) (Status, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// Service coordinates batch-level stock movements.
type Service struct {
	repo       RepositoryPort
	audit      shared.AuditRecorder
	thresholds Thresholds
	pageSize   int
	now        func() time.Time
	logger     *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Thresholds Thresholds
	// ScanPageSize bounds each expiry scan query.
	ScanPageSize int
	Now          func() time.Time
}

// DefaultHorizonDays is the expiry horizon used when callers pass none.
const DefaultHorizonDays = 30

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		audit:      audit,
		thresholds: cfg.Thresholds,
		pageSize:   cfg.ScanPageSize,
		now:        cfg.Now,
		logger:     logger,
	}
}

// RecordTransaction appends a ledger row and rebuilds the batch projection atomically.
func (s *Service) RecordTransaction(ctx context.Context, input MovementInput) (Movement, error) {
	var mv Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, err = s.RecordTransactionInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.RecordAudit(ctx, mv)
	return mv, nil
}

// RecordTransactionInTx is RecordTransaction bound to a caller supplied transaction.
// The caller owns commit and audit.
func (s *Service) RecordTransactionInTx(ctx context.Context, tx TxRepository, input MovementInput) (Movement, error) {
	if err := validateMovement(input); err != nil {
		return Movement{}, err
	}
	batch, status, err := s.lockStatus(ctx, tx, input.OrgID, input.BatchID)
	if err != nil {
		return Movement{}, err
	}
	reserved, err := tx.SumReservedQuantity(ctx, input.OrgID, input.BatchID, ReservingStatuses)
	if err != nil {
		return Movement{}, fmt.Errorf("inventory: sum reserved: %w", err)
	}
	before := status.CurrentQuantity
	if input.Kind.consumesAvailable() {
		available := Available(before, reserved)
		if -input.Quantity > available {
			return Movement{}, &shared.InsufficientInventoryError{BatchID: input.BatchID, Requested: -input.Quantity, Available: available}
		}
	}
	after := before + input.Quantity
	if after < 0 {
		return Movement{}, &shared.InsufficientInventoryError{BatchID: input.BatchID, Requested: -input.Quantity, Available: before}
	}

	now := s.now()
	row := Transaction{
		OrgID:          input.OrgID,
		BatchID:        input.BatchID,
		Kind:           input.Kind,
		QuantityChange: input.Quantity,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reference:      input.Reference,
		ActorID:        input.ActorID,
		IsAutomatic:    input.IsAutomatic,
		Remark:         input.Remark,
		CreatedAt:      now,
	}
	if row.Reference == "" {
		row.Reference = fmt.Sprintf("%s-%s", strings.ToUpper(string(input.Kind)), uuid.NewString())
	}
	id, err := tx.InsertTransaction(ctx, row)
	if err != nil {
		return Movement{}, fmt.Errorf("inventory: insert transaction: %w", err)
	}
	row.ID = id

	projected, err := s.rebuildInTx(ctx, tx, batch)
	if err != nil {
		return Movement{}, err
	}
	return Movement{Transaction: row, Status: projected}, nil
}

// AdjustStock posts a manual correction. Reason is mandatory.
func (s *Service) AdjustStock(ctx context.Context, input AdjustmentInput) (Movement, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return Movement{}, shared.Invalid("reason", "required")
	}
	return s.RecordTransaction(ctx, MovementInput{
		OrgID:     input.OrgID,
		BatchID:   input.BatchID,
		Kind:      KindAdjustment,
		Quantity:  input.Quantity,
		Reference: fmt.Sprintf("ADJ-%s", uuid.NewString()),
		ActorID:   input.ActorID,
		Remark:    input.Reason,
	})
}

// GetOrInitStatus returns the batch projection, creating it from the ledger when absent.
func (s *Service) GetOrInitStatus(ctx context.Context, orgID, batchID int64) (Status, error) {
	var status Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		_, status, err = s.lockStatus(ctx, tx, orgID, batchID)
		return err
	})
	return status, err
}

// GetStatus reads the projection without creating it.
func (s *Service) GetStatus(ctx context.Context, orgID, batchID int64) (Status, error) {
	status, err := s.repo.GetStatus(ctx, orgID, batchID)
	if errors.Is(err, ErrStatusNotFound) {
		return Status{}, shared.NotFound("batch_status", batchID)
	}
	return status, err
}

// ListTransactions returns the stock card of a batch.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.OrgID <= 0 {
		return nil, shared.Invalid("org_id", "required")
	}
	if filter.BatchID <= 0 {
		return nil, shared.Invalid("batch_id", "required")
	}
	return s.repo.ListTransactions(ctx, filter)
}

// RebuildStatus recomputes one projection from the ledger.
func (s *Service) RebuildStatus(ctx context.Context, orgID, batchID int64) (Status, error) {
	var status Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, _, err := s.lockStatus(ctx, tx, orgID, batchID)
		if err != nil {
			return err
		}
		status, err = s.rebuildInTx(ctx, tx, batch)
		return err
	})
	return status, err
}

// RebuildAll recomputes every projection of the organisation, one transaction per batch.
func (s *Service) RebuildAll(ctx context.Context, orgID int64) (int, error) {
	ids, err := s.repo.ListBatchIDs(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("inventory: list batches: %w", err)
	}
	rebuilt := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if _, err := s.RebuildStatus(ctx, orgID, id); err != nil {
			return rebuilt, fmt.Errorf("inventory: rebuild batch %d: %w", id, err)
		}
		rebuilt++
	}
	return rebuilt, nil
}

// RecommendFIFO suggests batches to pick from, earliest expiry first. It never writes.
func (s *Service) RecommendFIFO(ctx context.Context, orgID, productID, required int64) (FIFORecommendation, error) {
	if required <= 0 {
		return FIFORecommendation{}, shared.Invalid("required", "must be positive")
	}
	stock, err := s.repo.ListProductBatches(ctx, orgID, productID)
	if err != nil {
		return FIFORecommendation{}, fmt.Errorf("inventory: list product batches: %w", err)
	}
	return PlanFIFO(productID, required, stock, s.now()), nil
}

// PlanFIFO is the pure greedy allocation behind RecommendFIFO.
func PlanFIFO(productID, required int64, stock []BatchStock, now time.Time) FIFORecommendation {
	candidates := slices.Clone(stock)
	slices.SortStableFunc(candidates, func(a, b BatchStock) int {
		return cmp.Or(
			a.Batch.ExpiryDate.Compare(b.Batch.ExpiryDate),
			a.Batch.CreatedAt.Compare(b.Batch.CreatedAt),
			cmp.Compare(a.Batch.ID, b.Batch.ID),
		)
	})
	rec := FIFORecommendation{ProductID: productID, Required: required}
	remaining := required
	for _, item := range candidates {
		if remaining == 0 {
			break
		}
		if IsExpired(item.Batch, now) {
			continue
		}
		available := item.Batch.InitialQuantity
		if item.Status != nil {
			available = item.Status.AvailableQuantity
		}
		if available <= 0 {
			continue
		}
		take := min(remaining, available)
		rec.Picks = append(rec.Picks, FIFOPick{
			BatchID:     item.Batch.ID,
			BatchNumber: item.Batch.BatchNumber,
			ExpiryDate:  item.Batch.ExpiryDate,
			Available:   available,
			Quantity:    take,
		})
		remaining -= take
	}
	rec.CanFulfill = remaining == 0
	rec.Shortage = remaining
	return rec
}

// RecordAudit writes the audit entry of a committed movement. Failures are logged only.
func (s *Service) RecordAudit(ctx context.Context, mv Movement) {
	if s.audit == nil {
		return
	}
	t := mv.Transaction
	err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    t.OrgID,
		ActorID:  t.ActorID,
		Action:   fmt.Sprintf("inventory:%s", t.Kind),
		Entity:   "inventory_transaction",
		EntityID: fmt.Sprintf("%d", t.ID),
		Meta: map[string]any{
			"batch_id":  t.BatchID,
			"change":    t.QuantityChange,
			"after":     t.QuantityAfter,
			"reference": t.Reference,
			"automatic": t.IsAutomatic,
		},
		At: t.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("inventory audit failed", slog.Int64("transaction_id", t.ID), slog.Any("error", err))
	}
}

// lockStatus loads the batch and its locked projection, initialising the row when missing.
func (s *Service) lockStatus(ctx context.Context, tx TxRepository, orgID, batchID int64) (Batch, Status, error) {
	batch, err := tx.GetBatch(ctx, orgID, batchID)
	if errors.Is(err, ErrBatchNotFound) {
		return Batch{}, Status{}, shared.NotFound("batch", batchID)
	}
	if err != nil {
		return Batch{}, Status{}, fmt.Errorf("inventory: get batch: %w", err)
	}
	status, err := tx.GetStatusForUpdate(ctx, orgID, batchID)
	if err == nil {
		return batch, status, nil
	}
	if !errors.Is(err, ErrStatusNotFound) {
		return Batch{}, Status{}, fmt.Errorf("inventory: lock status: %w", err)
	}
	if _, err := s.rebuildInTx(ctx, tx, batch); err != nil {
		return Batch{}, Status{}, err
	}
	status, err = tx.GetStatusForUpdate(ctx, orgID, batchID)
	if err != nil {
		return Batch{}, Status{}, fmt.Errorf("inventory: lock status: %w", err)
	}
	return batch, status, nil
}

func (s *Service) rebuildInTx(ctx context.Context, tx TxRepository, batch Batch) (Status, error) {
	delta, last, err := tx.SumQuantityChange(ctx, batch.OrgID, batch.ID)
	if err != nil {
		return Status{}, fmt.Errorf("inventory: sum ledger: %w", err)
	}
	reserved, err := tx.SumReservedQuantity(ctx, batch.OrgID, batch.ID, ReservingStatuses)
	if err != nil {
		return Status{}, fmt.Errorf("inventory: sum reserved: %w", err)
	}
	status := Project(batch, delta, reserved, s.thresholds, last, s.now())
	if err := tx.UpsertStatus(ctx, status); err != nil {
		return Status{}, fmt.Errorf("inventory: upsert status: %w", err)
	}
	return status, nil
}

func validateMovement(input MovementInput) error {
	if input.OrgID <= 0 {
		return shared.Invalid("org_id", "required")
	}
	if input.BatchID <= 0 {
		return shared.Invalid("batch_id", "required")
	}
	if !input.Kind.IsValid() {
		return shared.Invalid("kind", fmt.Sprintf("unknown kind %q", input.Kind))
	}
	if input.Quantity == 0 {
		return shared.Invalid("quantity", "must not be zero")
	}
	switch input.Kind {
	case KindSale, KindDispatch:
		if input.Quantity > 0 {
			return shared.Invalid("quantity", fmt.Sprintf("%s must be negative", input.Kind))
		}
	case KindPurchase, KindReturn:
		if input.Quantity < 0 {
			return shared.Invalid("quantity", fmt.Sprintf("%s must be positive", input.Kind))
		}
	}
	return nil
}
