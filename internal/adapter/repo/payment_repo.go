package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// PaymentRepositoryPG implements domain.PaymentRepository. Settlement is a
// conditional pending-to-settled flip, which is what makes crediting a
// replayed notification impossible.
type PaymentRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new payment order repository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepositoryPG {
	return &PaymentRepositoryPG{pool: pool}
}

// CreateOrder inserts a new pending purchase order.
func (r *PaymentRepositoryPG) CreateOrder(ctx context.Context, order *domain.PaymentOrder) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO payment_orders (order_id, user_id, credits, gross_amount, status)
VALUES ($1, $2, $3, $4, $5);
`, order.OrderID, order.UserID, order.Credits, order.GrossAmount, order.Status)
	return err
}

// GetOrder fetches an order by its identifier.
func (r *PaymentRepositoryPG) GetOrder(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	row := r.pool.QueryRow(ctx, `
SELECT order_id, user_id, credits, gross_amount, status, created_at, updated_at
FROM payment_orders
WHERE order_id = $1;
`, orderID)
	return scanOrder(row)
}

// Settle flips a pending order to settled and returns the updated record.
// An order in any other state reports ErrDuplicateOperation.
func (r *PaymentRepositoryPG) Settle(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE payment_orders
SET status = 'settled',
    updated_at = NOW()
WHERE order_id = $1 AND status = 'pending'
RETURNING order_id, user_id, credits, gross_amount, status, created_at, updated_at;
`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, domain.ErrNotFound) {
		// Either the order does not exist or it already left pending.
		if _, getErr := r.GetOrder(ctx, orderID); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrDuplicateOperation
	}
	return order, err
}

// MarkFailed flips a pending order to failed.
func (r *PaymentRepositoryPG) MarkFailed(ctx context.Context, orderID string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE payment_orders
SET status = 'failed',
    updated_at = NOW()
WHERE order_id = $1 AND status = 'pending';
`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetOrder(ctx, orderID); getErr != nil {
			return getErr
		}
		return domain.ErrDuplicateOperation
	}
	return nil
}

func scanOrder(row pgx.Row) (*domain.PaymentOrder, error) {
	var order domain.PaymentOrder
	if err := row.Scan(
		&order.OrderID,
		&order.UserID,
		&order.Credits,
		&order.GrossAmount,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}
