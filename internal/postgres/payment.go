package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

const (
	createPaymentSQL = `INSERT INTO payments (id, session_id, amount, currency, provider, status)
		VALUES ($1, $2, $3, $4, $5, $6)`
	getPaymentSQL = `SELECT id, session_id, amount, currency, provider, status, created_at
		FROM payments WHERE id = $1`
	settlePaymentSQL = `UPDATE payments SET status = $2, settled_at = now()
		WHERE id = $1 AND status = 'pending'`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
// Payment ids are gateway-issued and stored as given.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new pending payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.PendingPayment) error {
	_, err := r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.SessionID, p.Amount, p.Currency, p.Provider, p.Status,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns payment.ErrNotFound when the id is unknown.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.PendingPayment, error) {
	var p payment.PendingPayment
	err := r.pool.QueryRow(ctx, getPaymentSQL, id).Scan(
		&p.ID, &p.SessionID, &p.Amount, &p.Currency, &p.Provider, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	return &p, nil
}

// Settle moves a payment out of pending exactly once. The WHERE clause on
// status makes concurrent settlements race-safe: the loser sees zero rows.
func (r *PaymentRepository) Settle(ctx context.Context, id string, status payment.Status) error {
	tag, err := r.pool.Exec(ctx, settlePaymentSQL, id, status)
	if err != nil {
		return fmt.Errorf("settling payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return payment.ErrAlreadySettled
	}
	return nil
}
