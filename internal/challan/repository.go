package challan

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for challans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetOrderForChallan(ctx context.Context, orgID, orderID int64) (OrderForChallan, error)
	SetOrderStatus(ctx context.Context, orgID, orderID int64, status string) error

	InsertChallan(ctx context.Context, ch Challan) (int64, error)
	InsertChallanItem(ctx context.Context, item Item) (int64, error)
	GetChallanForUpdate(ctx context.Context, orgID, challanID int64) (Challan, error)
	UpdateChallan(ctx context.Context, ch Challan) error
	InsertTrackingEvent(ctx context.Context, ev TrackingEvent) (int64, error)
	InsertDeliveryConfirmation(ctx context.Context, c DeliveryConfirmation) (int64, error)

	// Inventory exposes ledger statements bound to the same transaction.
	Inventory() inventory.TxRepository
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds challan statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *txRepo) Inventory() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

func (r *txRepo) GetOrderForChallan(ctx context.Context, orgID, orderID int64) (OrderForChallan, error) {
	o := OrderForChallan{ID: orderID, OrgID: orgID}
	err := r.tx.QueryRow(ctx, `SELECT status FROM orders WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, orderID).Scan(&o.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderForChallan{}, ErrOrderNotFound
		}
		return OrderForChallan{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT l.id, l.batch_id, b.product_id, l.quantity,
       COALESCE(p.pack_size, 1), COALESCE(p.unit_weight, 0)
FROM order_lines l
JOIN batches b ON b.id = l.batch_id
LEFT JOIN products p ON p.id = b.product_id
WHERE l.order_id = $1
ORDER BY l.id`, orderID)
	if err != nil {
		return OrderForChallan{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLineRef
		if err := rows.Scan(&l.ID, &l.BatchID, &l.ProductID, &l.Quantity, &l.PackSize, &l.UnitWeight); err != nil {
			return OrderForChallan{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *txRepo) SetOrderStatus(ctx context.Context, orgID, orderID int64, status string) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET status = $3, updated_at = NOW() WHERE org_id = $1 AND id = $2`, orgID, orderID, status)
	return err
}

func (r *txRepo) InsertChallan(ctx context.Context, ch Challan) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO challans
    (org_id, order_id, number, state, package_count, total_weight, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		ch.OrgID, ch.OrderID, ch.Number, string(ch.State), ch.PackageCount, ch.TotalWeight, ch.Notes,
		ch.CreatedBy, ch.CreatedAt, ch.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertChallanItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO challan_items
    (challan_id, order_line_id, batch_id, product_id, ordered_quantity, dispatched_quantity,
     pending_quantity, packages, weight)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		it.ChallanID, it.OrderLineID, it.BatchID, it.ProductID, it.OrderedQuantity, it.DispatchedQuantity,
		it.PendingQuantity, it.Packages, it.Weight).Scan(&id)
	return id, err
}

func (r *txRepo) GetChallanForUpdate(ctx context.Context, orgID, challanID int64) (Challan, error) {
	return loadChallan(ctx, r.tx, orgID, challanID, " FOR UPDATE")
}

func (r *txRepo) UpdateChallan(ctx context.Context, ch Challan) error {
	_, err := r.tx.Exec(ctx, `UPDATE challans SET
    state = $3, vehicle_number = $4, driver_name = $5, driver_phone = $6, transporter = $7, lr_number = $8,
    cancel_reason = $9, dispatched_at = $10, delivered_at = $11, cancelled_at = $12, updated_at = $13
WHERE org_id = $1 AND id = $2`,
		ch.OrgID, ch.ID, string(ch.State), ch.Transport.VehicleNumber, ch.Transport.DriverName,
		ch.Transport.DriverPhone, ch.Transport.Transporter, ch.Transport.LRNumber,
		ch.CancelReason, ch.DispatchedAt, ch.DeliveredAt, ch.CancelledAt, ch.UpdatedAt)
	return err
}

func (r *txRepo) InsertTrackingEvent(ctx context.Context, ev TrackingEvent) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO challan_tracking (org_id, challan_id, state, location, note, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ev.OrgID, ev.ChallanID, string(ev.State), ev.Location, ev.Note, ev.ActorID, ev.At).Scan(&id)
	return id, err
}

func (r *txRepo) InsertDeliveryConfirmation(ctx context.Context, c DeliveryConfirmation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO delivery_confirmations
    (org_id, challan_id, received_by, satisfied, notes, method, actor_id, confirmed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		c.OrgID, c.ChallanID, c.ReceivedBy, c.Satisfied, c.Notes, c.Method, c.ActorID, c.ConfirmedAt).Scan(&id)
	return id, err
}

// GetChallan reads a challan with its items.
func (r *Repository) GetChallan(ctx context.Context, orgID, challanID int64) (Challan, error) {
	return loadChallan(ctx, r.pool, orgID, challanID, "")
}

// ListTracking returns the tracking history of a challan.
func (r *Repository) ListTracking(ctx context.Context, orgID, challanID int64) ([]TrackingEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, challan_id, state, location, note, actor_id, occurred_at
FROM challan_tracking WHERE org_id = $1 AND challan_id = $2 ORDER BY occurred_at, id`, orgID, challanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrackingEvent
	for rows.Next() {
		var (
			ev    TrackingEvent
			state string
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.ChallanID, &state, &ev.Location, &ev.Note, &ev.ActorID, &ev.At); err != nil {
			return nil, err
		}
		ev.State = State(state)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func loadChallan(ctx context.Context, q db.Querier, orgID, challanID int64, lock string) (Challan, error) {
	var (
		ch    Challan
		state string
	)
	err := q.QueryRow(ctx, `SELECT id, org_id, order_id, number, state, package_count, total_weight,
       COALESCE(vehicle_number, ''), COALESCE(driver_name, ''), COALESCE(driver_phone, ''),
       COALESCE(transporter, ''), COALESCE(lr_number, ''), COALESCE(notes, ''), COALESCE(cancel_reason, ''),
       dispatched_at, delivered_at, cancelled_at, created_by, created_at, updated_at
FROM challans WHERE org_id = $1 AND id = $2`+lock, orgID, challanID).Scan(
		&ch.ID, &ch.OrgID, &ch.OrderID, &ch.Number, &state, &ch.PackageCount, &ch.TotalWeight,
		&ch.Transport.VehicleNumber, &ch.Transport.DriverName, &ch.Transport.DriverPhone,
		&ch.Transport.Transporter, &ch.Transport.LRNumber, &ch.Notes, &ch.CancelReason,
		&ch.DispatchedAt, &ch.DeliveredAt, &ch.CancelledAt, &ch.CreatedBy, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challan{}, ErrChallanNotFound
		}
		return Challan{}, err
	}
	ch.State = State(state)

	rows, err := q.Query(ctx, `SELECT id, challan_id, order_line_id, batch_id, product_id, ordered_quantity,
       dispatched_quantity, pending_quantity, packages, weight
FROM challan_items WHERE challan_id = $1 ORDER BY id`, challanID)
	if err != nil {
		return Challan{}, fmt.Errorf("challan: load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it     Item
			weight decimal.Decimal
		)
		if err := rows.Scan(&it.ID, &it.ChallanID, &it.OrderLineID, &it.BatchID, &it.ProductID, &it.OrderedQuantity,
			&it.DispatchedQuantity, &it.PendingQuantity, &it.Packages, &weight); err != nil {
			return Challan{}, err
		}
		it.Weight = weight
		ch.Items = append(ch.Items, it)
	}
	return ch, rows.Err()
}
