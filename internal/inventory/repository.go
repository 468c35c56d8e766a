package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetBatch(ctx context.Context, orgID, batchID int64) (Batch, error)
	GetStatusForUpdate(ctx context.Context, orgID, batchID int64) (Status, error)
	UpsertStatus(ctx context.Context, status Status) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	SumQuantityChange(ctx context.Context, orgID, batchID int64) (int64, *time.Time, error)
	SumReservedQuantity(ctx context.Context, orgID, batchID int64, statuses []string) (int64, error)
}

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds inventory statements to an open transaction so other
// modules can post movements inside their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const batchColumns = `b.id, b.org_id, b.product_id, b.batch_number, b.initial_quantity, b.expiry_date,
       b.cost_price, b.sale_price, b.created_at`

const statusColumns = `s.org_id, s.batch_id, s.current_quantity, s.reserved_quantity, s.available_quantity,
       s.out_of_stock, s.low_stock, s.needs_reorder, s.last_transaction_at, s.updated_at`

func (r *txRepo) GetBatch(ctx context.Context, orgID, batchID int64) (Batch, error) {
	row := r.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches b WHERE b.org_id = $1 AND b.id = $2`, orgID, batchID)
	var b Batch
	if err := scanBatch(row, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func (r *txRepo) GetStatusForUpdate(ctx context.Context, orgID, batchID int64) (Status, error) {
	row := r.q.QueryRow(ctx, `SELECT `+statusColumns+` FROM batch_inventory_status s
WHERE s.org_id = $1 AND s.batch_id = $2 FOR UPDATE`, orgID, batchID)
	var s Status
	if err := scanStatus(row, &s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{OrgID: orgID, BatchID: batchID}, ErrStatusNotFound
		}
		return Status{}, err
	}
	return s, nil
}

func (r *txRepo) UpsertStatus(ctx context.Context, s Status) error {
	_, err := r.q.Exec(ctx, `INSERT INTO batch_inventory_status
    (org_id, batch_id, current_quantity, reserved_quantity, available_quantity,
     out_of_stock, low_stock, needs_reorder, last_transaction_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (batch_id) DO UPDATE SET
    current_quantity = EXCLUDED.current_quantity,
    reserved_quantity = EXCLUDED.reserved_quantity,
    available_quantity = EXCLUDED.available_quantity,
    out_of_stock = EXCLUDED.out_of_stock,
    low_stock = EXCLUDED.low_stock,
    needs_reorder = EXCLUDED.needs_reorder,
    last_transaction_at = EXCLUDED.last_transaction_at,
    updated_at = EXCLUDED.updated_at`,
		s.OrgID, s.BatchID, s.CurrentQuantity, s.ReservedQuantity, s.AvailableQuantity,
		s.OutOfStock, s.LowStock, s.NeedsReorder, s.LastTransactionAt, s.UpdatedAt)
	return err
}

func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO inventory_transactions
    (org_id, batch_id, kind, quantity_change, quantity_before, quantity_after,
     reference, actor_id, is_automatic, remark, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`,
		t.OrgID, t.BatchID, string(t.Kind), t.QuantityChange, t.QuantityBefore, t.QuantityAfter,
		t.Reference, t.ActorID, t.IsAutomatic, t.Remark, t.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) SumQuantityChange(ctx context.Context, orgID, batchID int64) (int64, *time.Time, error) {
	var (
		sum  int64
		last *time.Time
	)
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_change), 0), MAX(created_at)
FROM inventory_transactions WHERE org_id = $1 AND batch_id = $2`, orgID, batchID).Scan(&sum, &last)
	return sum, last, err
}

func (r *txRepo) SumReservedQuantity(ctx context.Context, orgID, batchID int64, statuses []string) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(l.quantity), 0)
FROM order_lines l
JOIN orders o ON o.id = l.order_id
WHERE o.org_id = $1 AND l.batch_id = $2 AND o.status = ANY($3)`, orgID, batchID, statuses).Scan(&sum)
	return sum, err
}

// ListProductBatches returns the batches of a product with their projections in
// FIFO order: expiry, creation, id.
func (r *Repository) ListProductBatches(ctx context.Context, orgID, productID int64) ([]BatchStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`, `+statusColumns+`
FROM batches b
LEFT JOIN batch_inventory_status s ON s.batch_id = b.id
WHERE b.org_id = $1 AND b.product_id = $2
ORDER BY b.expiry_date, b.created_at, b.id`, orgID, productID)
	if err != nil {
		return nil, err
	}
	return collectBatchStock(rows)
}

// ListExpiringBatches pages through batches expiring on or before filter.Until.
func (r *Repository) ListExpiringBatches(ctx context.Context, filter ExpiryFilter) ([]BatchStock, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`, `+statusColumns+`
FROM batches b
LEFT JOIN batch_inventory_status s ON s.batch_id = b.id
WHERE b.org_id = $1 AND b.expiry_date <= $2
  AND (b.expiry_date, b.id) > ($3, $4)
ORDER BY b.expiry_date, b.id
LIMIT $5`, filter.OrgID, filter.Until, filter.AfterExpiry, filter.AfterID, limit)
	if err != nil {
		return nil, err
	}
	return collectBatchStock(rows)
}

// ListBatchIDs returns every batch id of the organisation.
func (r *Repository) ListBatchIDs(ctx context.Context, orgID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM batches WHERE org_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// GetStatus reads a projection without locking.
func (r *Repository) GetStatus(ctx context.Context, orgID, batchID int64) (Status, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM batch_inventory_status s
WHERE s.org_id = $1 AND s.batch_id = $2`, orgID, batchID)
	var s Status
	if err := scanStatus(row, &s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrStatusNotFound
		}
		return Status{}, err
	}
	return s, nil
}

// ListTransactions returns ledger rows of a batch, newest last.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, batch_id, kind, quantity_change, quantity_before,
       quantity_after, reference, actor_id, is_automatic, remark, created_at
FROM inventory_transactions
WHERE org_id = $1 AND batch_id = $2
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at < $4)
ORDER BY created_at, id
LIMIT $5`, filter.OrgID, filter.BatchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var (
			t    Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.OrgID, &t.BatchID, &kind, &t.QuantityChange, &t.QuantityBefore,
			&t.QuantityAfter, &t.Reference, &t.ActorID, &t.IsAutomatic, &t.Remark, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = Kind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row, b *Batch) error {
	return row.Scan(&b.ID, &b.OrgID, &b.ProductID, &b.BatchNumber, &b.InitialQuantity, &b.ExpiryDate,
		&b.CostPrice, &b.SalePrice, &b.CreatedAt)
}

func scanStatus(row pgx.Row, s *Status) error {
	return row.Scan(&s.OrgID, &s.BatchID, &s.CurrentQuantity, &s.ReservedQuantity, &s.AvailableQuantity,
		&s.OutOfStock, &s.LowStock, &s.NeedsReorder, &s.LastTransactionAt, &s.UpdatedAt)
}

func collectBatchStock(rows pgx.Rows) ([]BatchStock, error) {
	defer rows.Close()
	var out []BatchStock
	for rows.Next() {
		var (
			b         Batch
			orgID     *int64
			batchID   *int64
			current   *int64
			reserved  *int64
			available *int64
			oos       *bool
			low       *bool
			reorder   *bool
			lastTx    *time.Time
			updatedAt *time.Time
		)
		if err := rows.Scan(&b.ID, &b.OrgID, &b.ProductID, &b.BatchNumber, &b.InitialQuantity, &b.ExpiryDate,
			&b.CostPrice, &b.SalePrice, &b.CreatedAt,
			&orgID, &batchID, &current, &reserved, &available, &oos, &low, &reorder, &lastTx, &updatedAt); err != nil {
			return nil, fmt.Errorf("inventory: scan batch stock: %w", err)
		}
		item := BatchStock{Batch: b}
		if batchID != nil {
			item.Status = &Status{
				OrgID:             *orgID,
				BatchID:           *batchID,
				CurrentQuantity:   *current,
				ReservedQuantity:  *reserved,
				AvailableQuantity: *available,
				OutOfStock:        *oos,
				LowStock:          *low,
				NeedsReorder:      *reorder,
				LastTransactionAt: lastTx,
			}
			if updatedAt != nil {
				item.Status.UpdatedAt = *updatedAt
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
