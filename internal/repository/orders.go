package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/snapcart/capture-api/internal/domain"
	"github.com/snapcart/capture-api/internal/domain/vo"
)

type OrderRepository struct {
	db *sqlx.DB
}

type orderRow struct {
	ID          string    `db:"id"`
	AmountMinor int64     `db:"amount_minor"`
	Currency    string    `db:"currency"`
	Status      string    `db:"status"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type chargeRow struct {
	ID             string    `db:"id"`
	OrderID        string    `db:"order_id"`
	IdempotencyKey string    `db:"idempotency_key"`
	AmountMinor    int64     `db:"amount_minor"`
	Currency       string    `db:"currency"`
	CreatedAt      time.Time `db:"created_at"`
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	const query = `
		SELECT id, amount_minor, currency, status, updated_at
		FROM orders
		WHERE id = $1
	`

	var row orderRow
	if err := r.db.GetContext(ctx, &row, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, vo.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("repository: get order failed: %w", err)
	}

	return orderFromRow(row), nil
}

func (r *OrderRepository) EnsureOrderExists(ctx context.Context, orderID string, defaultAmountMinor int64, defaultCurrency string) (domain.Order, error) {
	const insertQuery = `
		INSERT INTO orders (id, amount_minor, currency, status, updated_at)
		VALUES ($1, $2, $3, 'unpaid', now())
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, insertQuery, orderID, defaultAmountMinor, defaultCurrency); err != nil {
		return domain.Order{}, fmt.Errorf("repository: ensure order failed: %w", err)
	}

	return r.GetOrder(ctx, orderID)
}

// MarkPaid transitions the order to paid. Safe to call on an already-paid
// order: the status never moves back and the call degrades to a no-op read.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string) (domain.Order, error) {
	const updateQuery = `
		UPDATE orders
		SET status = 'paid', updated_at = now()
		WHERE id = $1 AND status <> 'paid'
	`

	if _, err := r.db.ExecContext(ctx, updateQuery, orderID); err != nil {
		return domain.Order{}, fmt.Errorf("repository: mark paid failed: %w", err)
	}

	return r.GetOrder(ctx, orderID)
}

// RecordCharge stores the local reference to a provider charge. Re-driving
// the same charge id is a no-op so a completed capture can be replayed.
func (r *OrderRepository) RecordCharge(ctx context.Context, charge domain.Charge) error {
	const insertQuery = `
		INSERT INTO charges (id, order_id, idempotency_key, amount_minor, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, insertQuery,
		charge.ID,
		charge.OrderID,
		charge.IdempotencyKey,
		charge.AmountMinor,
		charge.Currency,
	); err != nil {
		return fmt.Errorf("repository: record charge failed: %w", err)
	}

	return nil
}

func (r *OrderRepository) ListCharges(ctx context.Context, orderID string) ([]domain.Charge, error) {
	const query = `
		SELECT id, order_id, idempotency_key, amount_minor, currency, created_at
		FROM charges
		WHERE order_id = $1
		ORDER BY created_at ASC
	`

	var rows []chargeRow
	if err := r.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("repository: list charges failed: %w", err)
	}

	charges := make([]domain.Charge, 0, len(rows))
	for _, row := range rows {
		charges = append(charges, domain.Charge{
			ID:             row.ID,
			OrderID:        row.OrderID,
			IdempotencyKey: row.IdempotencyKey,
			AmountMinor:    row.AmountMinor,
			Currency:       row.Currency,
			CreatedAt:      row.CreatedAt,
		})
	}

	return charges, nil
}

func orderFromRow(row orderRow) domain.Order {
	return domain.Order{
		ID:          row.ID,
		AmountMinor: row.AmountMinor,
		Currency:    row.Currency,
		Status:      domain.OrderStatus(row.Status),
		UpdatedAt:   row.UpdatedAt,
	}
}
