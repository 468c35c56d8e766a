package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertOrder(ctx context.Context, o Order) (int64, error)
	InsertOrderLine(ctx context.Context, l Line) (int64, error)
	UpdateOrderAmounts(ctx context.Context, o Order) error

	// Sub-repositories share the same transaction.
	Inventory() inventory.TxRepository
	Discounts() discounts.TxRepository
	Payments() payments.TxRepository
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds order statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *txRepo) Inventory() inventory.TxRepository { return inventory.NewTxRepository(r.tx) }
func (r *txRepo) Discounts() discounts.TxRepository { return discounts.NewTxRepository(r.tx) }
func (r *txRepo) Payments() payments.TxRepository   { return payments.NewTxRepository(r.tx) }

func (r *txRepo) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO orders
    (org_id, number, customer_id, status, payment_status, gross_amount, discount_amount, final_amount,
     due_date, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		o.OrgID, o.Number, o.CustomerID, string(o.Status), string(o.PaymentStatus), o.GrossAmount,
		o.DiscountAmount, o.FinalAmount, o.DueDate, o.Notes, o.CreatedBy, o.CreatedAt, o.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertOrderLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO order_lines (order_id, batch_id, product_id, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		l.OrderID, l.BatchID, l.ProductID, l.Quantity, l.UnitPrice, l.LineTotal).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateOrderAmounts(ctx context.Context, o Order) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET gross_amount = $3, discount_amount = $4, final_amount = $5, updated_at = NOW()
WHERE org_id = $1 AND id = $2`, o.OrgID, o.ID, o.GrossAmount, o.DiscountAmount, o.FinalAmount)
	return err
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, orgID, orderID int64) (Order, error) {
	var (
		o             Order
		status, payst string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, org_id, number, customer_id, status, payment_status, gross_amount,
       discount_amount, final_amount, due_date, COALESCE(notes, ''), created_by, created_at, updated_at
FROM orders WHERE org_id = $1 AND id = $2`, orgID, orderID).Scan(
		&o.ID, &o.OrgID, &o.Number, &o.CustomerID, &status, &payst, &o.GrossAmount,
		&o.DiscountAmount, &o.FinalAmount, &o.DueDate, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	o.Status = Status(status)
	o.PaymentStatus = payments.PaymentStatus(payst)

	rows, err := r.pool.Query(ctx, `SELECT id, order_id, batch_id, product_id, quantity, unit_price, line_total
FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.BatchID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}
