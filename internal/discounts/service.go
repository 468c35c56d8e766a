package discounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service evaluates and records discount schemes.
type Service struct {
	repo   RepositoryPort
	now    func() time.Time
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, now: now, logger: logger}
}

// ApplyEligible grants every active scheme that yields a positive amount and records it.
func (s *Service) ApplyEligible(ctx context.Context, order OrderContext, lines []Line) (Application, error) {
	var app Application
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		app, err = s.ApplyEligibleInTx(ctx, tx, order, lines)
		return err
	})
	return app, err
}

// ApplyEligibleInTx is ApplyEligible inside a caller transaction.
func (s *Service) ApplyEligibleInTx(ctx context.Context, tx TxRepository, order OrderContext, lines []Line) (Application, error) {
	if order.OrderID <= 0 {
		return Application{}, shared.Invalid("order_id", "required")
	}
	return s.evaluate(ctx, tx, order, lines, true)
}

// Preview computes the stacked discount without writing anything.
func (s *Service) Preview(ctx context.Context, orgID, customerID int64, lines []Line) (Application, error) {
	var app Application
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.GetCustomer(ctx, orgID, customerID)
		if errors.Is(err, ErrCustomerNotFound) {
			return shared.NotFound("customer", customerID)
		}
		if err != nil {
			return fmt.Errorf("discounts: get customer: %w", err)
		}
		order := OrderContext{OrgID: orgID, Customer: customer, GrossAmount: GrossAmount(lines)}
		app, err = s.evaluate(ctx, tx, order, lines, false)
		return err
	})
	return app, err
}

func (s *Service) evaluate(ctx context.Context, tx TxRepository, order OrderContext, lines []Line, write bool) (Application, error) {
	now := s.now()
	schemes, err := tx.ListActiveSchemes(ctx, order.OrgID, now)
	if err != nil {
		return Application{}, fmt.Errorf("discounts: list schemes: %w", err)
	}
	app := Application{Total: decimal.Zero}
	for _, scheme := range schemes {
		var usage *CustomerUsage
		row, err := tx.GetCustomerUsage(ctx, order.OrgID, scheme.ID, order.Customer.ID)
		switch {
		case errors.Is(err, ErrUsageNotFound):
		case err != nil:
			return Application{}, fmt.Errorf("discounts: get usage: %w", err)
		default:
			usage = &row
		}
		amount := Calculate(scheme, order, lines, usage)
		if !amount.IsPositive() {
			continue
		}
		applied := Applied{
			OrgID:      order.OrgID,
			OrderID:    order.OrderID,
			SchemeID:   scheme.ID,
			CustomerID: order.Customer.ID,
			Amount:     amount,
			CreatedAt:  now,
		}
		if write {
			if applied.ID, err = tx.InsertAppliedDiscount(ctx, applied); err != nil {
				return Application{}, fmt.Errorf("discounts: insert applied: %w", err)
			}
			if err := tx.IncrementSchemeUsage(ctx, order.OrgID, scheme.ID); err != nil {
				return Application{}, fmt.Errorf("discounts: increment scheme usage: %w", err)
			}
			if err := tx.IncrementCustomerUsage(ctx, order.OrgID, scheme.ID, order.Customer.ID); err != nil {
				return Application{}, fmt.Errorf("discounts: increment customer usage: %w", err)
			}
			s.logger.Debug("discount applied", slog.Int64("order_id", order.OrderID), slog.Int64("scheme_id", scheme.ID), slog.String("amount", amount.String()))
		}
		app.Applied = append(app.Applied, applied)
		app.Total = app.Total.Add(amount)
	}
	return app, nil
}
