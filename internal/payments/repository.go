package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetOrderForPayment(ctx context.Context, orgID, orderID int64) (OrderRef, error)
	SumAllocatedForOrder(ctx context.Context, orgID, orderID int64) (decimal.Decimal, error)
	UpdateOrderPaymentStatus(ctx context.Context, orgID, orderID int64, status PaymentStatus) error

	InsertPayment(ctx context.Context, p Payment) (int64, error)
	GetPayment(ctx context.Context, orgID, paymentID int64) (Payment, error)
	InsertAllocation(ctx context.Context, a Allocation) (int64, error)
	ListAllocationsByPayment(ctx context.Context, orgID, paymentID int64) ([]Allocation, error)

	InsertAdvance(ctx context.Context, a Advance) (int64, error)
	ListActiveAdvancesForUpdate(ctx context.Context, orgID, customerID int64) ([]Advance, error)
	UpdateAdvance(ctx context.Context, a Advance) error
	InsertAdvanceUsage(ctx context.Context, u AdvanceUsage) (int64, error)

	GetCustomerCreditForUpdate(ctx context.Context, orgID, customerID int64) (CustomerCredit, error)
	UpdateCustomerCreditUsed(ctx context.Context, orgID, customerID int64, used decimal.Decimal) error
	UpsertOutstanding(ctx context.Context, o Outstanding) error
}

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds payment statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const orderRefQuery = `SELECT id, org_id, customer_id, final_amount, payment_status, due_date
FROM orders WHERE org_id = $1 AND id = $2`

func scanOrderRef(row pgx.Row) (OrderRef, error) {
	var (
		o      OrderRef
		status string
	)
	if err := row.Scan(&o.ID, &o.OrgID, &o.CustomerID, &o.FinalAmount, &status, &o.DueDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderRef{}, ErrOrderNotFound
		}
		return OrderRef{}, err
	}
	o.PaymentStatus = PaymentStatus(status)
	return o, nil
}

func (r *txRepo) GetOrderForPayment(ctx context.Context, orgID, orderID int64) (OrderRef, error) {
	return scanOrderRef(r.q.QueryRow(ctx, orderRefQuery+` FOR UPDATE`, orgID, orderID))
}

func (r *txRepo) SumAllocatedForOrder(ctx context.Context, orgID, orderID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_allocations
WHERE org_id = $1 AND order_id = $2`, orgID, orderID).Scan(&sum)
	return sum, err
}

func (r *txRepo) UpdateOrderPaymentStatus(ctx context.Context, orgID, orderID int64, status PaymentStatus) error {
	_, err := r.q.Exec(ctx, `UPDATE orders SET payment_status = $3, updated_at = NOW()
WHERE org_id = $1 AND id = $2`, orgID, orderID, string(status))
	return err
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO payments (org_id, customer_id, reference, amount, mode, kind, received_at, actor_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.OrgID, p.CustomerID, p.Reference, p.Amount, p.Mode, string(p.Kind), p.ReceivedAt, p.ActorID).Scan(&id)
	return id, err
}

func (r *txRepo) GetPayment(ctx context.Context, orgID, paymentID int64) (Payment, error) {
	var (
		p    Payment
		kind string
	)
	err := r.q.QueryRow(ctx, `SELECT id, org_id, customer_id, reference, amount, mode, kind, received_at, actor_id
FROM payments WHERE org_id = $1 AND id = $2`, orgID, paymentID).Scan(
		&p.ID, &p.OrgID, &p.CustomerID, &p.Reference, &p.Amount, &p.Mode, &kind, &p.ReceivedAt, &p.ActorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	p.Kind = PaymentKind(kind)
	return p, nil
}

func (r *txRepo) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO payment_allocations (org_id, payment_id, order_id, amount, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, a.OrgID, a.PaymentID, a.OrderID, a.Amount, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) ListAllocationsByPayment(ctx context.Context, orgID, paymentID int64) ([]Allocation, error) {
	return listAllocations(ctx, r.q, `WHERE org_id = $1 AND payment_id = $2`, orgID, paymentID)
}

func (r *txRepo) InsertAdvance(ctx context.Context, a Advance) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO customer_advances
    (org_id, customer_id, payment_id, amount, used_amount, remaining_amount, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		a.OrgID, a.CustomerID, a.PaymentID, a.Amount, a.UsedAmount, a.RemainingAmount, string(a.Status), a.CreatedAt, a.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) ListActiveAdvancesForUpdate(ctx context.Context, orgID, customerID int64) ([]Advance, error) {
	return listAdvances(ctx, r.q, `WHERE org_id = $1 AND customer_id = $2 AND status = 'active'
ORDER BY created_at, id FOR UPDATE`, orgID, customerID)
}

func (r *txRepo) UpdateAdvance(ctx context.Context, a Advance) error {
	_, err := r.q.Exec(ctx, `UPDATE customer_advances
SET used_amount = $3, remaining_amount = $4, status = $5, updated_at = $6
WHERE org_id = $1 AND id = $2`, a.OrgID, a.ID, a.UsedAmount, a.RemainingAmount, string(a.Status), a.UpdatedAt)
	return err
}

func (r *txRepo) InsertAdvanceUsage(ctx context.Context, u AdvanceUsage) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO advance_usages (org_id, advance_id, order_id, amount, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, u.OrgID, u.AdvanceID, u.OrderID, u.Amount, u.ActorID, u.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) GetCustomerCreditForUpdate(ctx context.Context, orgID, customerID int64) (CustomerCredit, error) {
	c := CustomerCredit{OrgID: orgID, CustomerID: customerID}
	err := r.q.QueryRow(ctx, `SELECT credit_limit, credit_used FROM customer_credits
WHERE org_id = $1 AND customer_id = $2 FOR UPDATE`, orgID, customerID).Scan(&c.CreditLimit, &c.CreditUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomerCredit{}, ErrCreditNotFound
		}
		return CustomerCredit{}, err
	}
	return c, nil
}

func (r *txRepo) UpdateCustomerCreditUsed(ctx context.Context, orgID, customerID int64, used decimal.Decimal) error {
	_, err := r.q.Exec(ctx, `UPDATE customer_credits SET credit_used = $3, updated_at = NOW()
WHERE org_id = $1 AND customer_id = $2`, orgID, customerID, used)
	return err
}

func (r *txRepo) UpsertOutstanding(ctx context.Context, o Outstanding) error {
	_, err := r.q.Exec(ctx, `INSERT INTO order_outstanding
    (org_id, order_id, customer_id, total_amount, paid_amount, outstanding_amount, status, due_date, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (order_id) DO UPDATE SET
    total_amount = EXCLUDED.total_amount,
    paid_amount = EXCLUDED.paid_amount,
    outstanding_amount = EXCLUDED.outstanding_amount,
    status = EXCLUDED.status,
    due_date = EXCLUDED.due_date,
    updated_at = EXCLUDED.updated_at`,
		o.OrgID, o.OrderID, o.CustomerID, o.TotalAmount, o.PaidAmount, o.OutstandingAmount, string(o.Status), o.DueDate, o.UpdatedAt)
	return err
}

// ListAdvances returns every advance of a customer, oldest first.
func (r *Repository) ListAdvances(ctx context.Context, orgID, customerID int64) ([]Advance, error) {
	return listAdvances(ctx, r.pool, `WHERE org_id = $1 AND customer_id = $2 ORDER BY created_at, id`, orgID, customerID)
}

// ListAllocationsByOrder returns the allocations settling an order.
func (r *Repository) ListAllocationsByOrder(ctx context.Context, orgID, orderID int64) ([]Allocation, error) {
	return listAllocations(ctx, r.pool, `WHERE org_id = $1 AND order_id = $2`, orgID, orderID)
}

// GetOrderRef reads the payment view of an order.
func (r *Repository) GetOrderRef(ctx context.Context, orgID, orderID int64) (OrderRef, error) {
	return scanOrderRef(r.pool.QueryRow(ctx, orderRefQuery, orgID, orderID))
}

// GetOutstanding reads the receivable row of an order.
func (r *Repository) GetOutstanding(ctx context.Context, orgID, orderID int64) (Outstanding, error) {
	var (
		o      Outstanding
		status string
	)
	err := r.pool.QueryRow(ctx, `SELECT org_id, order_id, customer_id, total_amount, paid_amount,
       outstanding_amount, status, due_date, updated_at
FROM order_outstanding WHERE org_id = $1 AND order_id = $2`, orgID, orderID).Scan(
		&o.OrgID, &o.OrderID, &o.CustomerID, &o.TotalAmount, &o.PaidAmount, &o.OutstandingAmount, &status, &o.DueDate, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Outstanding{}, ErrOutstandingNotFound
		}
		return Outstanding{}, err
	}
	o.Status = PaymentStatus(status)
	return o, nil
}

func listAllocations(ctx context.Context, q db.Querier, where string, args ...any) ([]Allocation, error) {
	rows, err := q.Query(ctx, `SELECT id, org_id, payment_id, order_id, amount, created_at
FROM payment_allocations `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.OrgID, &a.PaymentID, &a.OrderID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func listAdvances(ctx context.Context, q db.Querier, clause string, args ...any) ([]Advance, error) {
	rows, err := q.Query(ctx, `SELECT id, org_id, customer_id, payment_id, amount, used_amount, remaining_amount,
       status, created_at, updated_at
FROM customer_advances `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Advance
	for rows.Next() {
		var (
			a      Advance
			status string
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &a.CustomerID, &a.PaymentID, &a.Amount, &a.UsedAmount,
			&a.RemainingAmount, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = AdvanceStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
