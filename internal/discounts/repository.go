package discounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
)

// Repository persists discount schemes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetCustomer(ctx context.Context, orgID, customerID int64) (Customer, error)
	ListActiveSchemes(ctx context.Context, orgID int64, at time.Time) ([]Scheme, error)
	GetCustomerUsage(ctx context.Context, orgID, schemeID, customerID int64) (CustomerUsage, error)
	InsertAppliedDiscount(ctx context.Context, a Applied) (int64, error)
	IncrementSchemeUsage(ctx context.Context, orgID, schemeID int64) error
	IncrementCustomerUsage(ctx context.Context, orgID, schemeID, customerID int64) error
}

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds discount statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *txRepo) GetCustomer(ctx context.Context, orgID, customerID int64) (Customer, error) {
	var c Customer
	err := r.q.QueryRow(ctx, `SELECT id, org_id, name, customer_type FROM customers
WHERE org_id = $1 AND id = $2`, orgID, customerID).Scan(&c.ID, &c.OrgID, &c.Name, &c.Type)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *txRepo) ListActiveSchemes(ctx context.Context, orgID int64, at time.Time) ([]Scheme, error) {
	rows, err := r.q.Query(ctx, `SELECT id, org_id, name, discount_type, value, min_order_value, min_quantity,
       max_discount_amount, usage_limit, per_customer_limit, usage_count, valid_from, valid_until,
       target_mode, target_value
FROM discount_schemes
WHERE org_id = $1 AND is_active AND valid_from <= $2 AND valid_until >= $2
ORDER BY id`, orgID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Scheme
	for rows.Next() {
		var row schemeRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, err
		}
		scheme, err := row.scheme()
		if err != nil {
			return nil, err
		}
		out = append(out, scheme)
	}
	return out, rows.Err()
}

// schemeRow holds a discount_schemes row as scanned. The thresholds are
// nullable in older schemas and read as zero when absent.
type schemeRow struct {
	s             Scheme
	kind          string
	minOrderValue decimal.NullDecimal
	minQuantity   pgtype.Int8
	mode, value   string
}

func (r *schemeRow) dest() []any {
	return []any{&r.s.ID, &r.s.OrgID, &r.s.Name, &r.kind, &r.s.Value, &r.minOrderValue, &r.minQuantity,
		&r.s.MaxDiscountAmount, &r.s.UsageLimit, &r.s.PerCustomerLimit, &r.s.UsageCount, &r.s.ValidFrom, &r.s.ValidUntil,
		&r.mode, &r.value}
}

func (r *schemeRow) scheme() (Scheme, error) {
	s := r.s
	s.Type = DiscountType(r.kind)
	s.MinOrderValue = decimal.Zero
	if r.minOrderValue.Valid {
		s.MinOrderValue = r.minOrderValue.Decimal
	}
	if r.minQuantity.Valid {
		s.MinQuantity = r.minQuantity.Int64
	}
	targeting, err := ParseTargeting(r.mode, r.value)
	if err != nil {
		return Scheme{}, fmt.Errorf("scheme %d: %w", s.ID, err)
	}
	s.Targeting = targeting
	return s, nil
}

func (r *txRepo) GetCustomerUsage(ctx context.Context, orgID, schemeID, customerID int64) (CustomerUsage, error) {
	u := CustomerUsage{OrgID: orgID, SchemeID: schemeID, CustomerID: customerID}
	err := r.q.QueryRow(ctx, `SELECT usage_count FROM discount_customers
WHERE org_id = $1 AND scheme_id = $2 AND customer_id = $3`, orgID, schemeID, customerID).Scan(&u.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomerUsage{}, ErrUsageNotFound
		}
		return CustomerUsage{}, err
	}
	return u, nil
}

func (r *txRepo) InsertAppliedDiscount(ctx context.Context, a Applied) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO applied_discounts (org_id, order_id, scheme_id, customer_id, amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, a.OrgID, a.OrderID, a.SchemeID, a.CustomerID, a.Amount, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) IncrementSchemeUsage(ctx context.Context, orgID, schemeID int64) error {
	_, err := r.q.Exec(ctx, `UPDATE discount_schemes SET usage_count = usage_count + 1
WHERE org_id = $1 AND id = $2`, orgID, schemeID)
	return err
}

func (r *txRepo) IncrementCustomerUsage(ctx context.Context, orgID, schemeID, customerID int64) error {
	_, err := r.q.Exec(ctx, `INSERT INTO discount_customers (org_id, scheme_id, customer_id, usage_count)
VALUES ($1, $2, $3, 1)
ON CONFLICT (scheme_id, customer_id) DO UPDATE SET usage_count = discount_customers.usage_count + 1`,
		orgID, schemeID, customerID)
	return err
}
