package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarkhas/bookcart/internal/domain/cart"
)

const (
	createSessionSQL = `INSERT INTO shopping_sessions (id, user_id, total, expires_at)
		VALUES ($1, $2, $3, $4)`
	getSessionSQL = `SELECT id, user_id, total, expires_at
		FROM shopping_sessions WHERE id = $1`
	deleteSessionSQL = `DELETE FROM shopping_sessions WHERE id = $1`
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index on shopping_sessions.user_id.
const uniqueViolation = "23505"

var _ cart.SessionStore = (*SessionRepository)(nil)

// SessionRepository implements cart.SessionStore backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a shopping session. A second active session for the same
// user trips the partial unique index and maps to cart.ErrCartExists.
func (r *SessionRepository) Create(ctx context.Context, s *cart.ShoppingSession) error {
	_, err := r.pool.Exec(ctx, createSessionSQL, s.ID, s.UserID, s.Total, s.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return cart.ErrCartExists
		}
		return fmt.Errorf("creating session %q: %w", s.ID, err)
	}
	return nil
}

// GetByID returns cart.ErrSessionNotFound when no such session exists.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*cart.ShoppingSession, error) {
	var s cart.ShoppingSession
	err := r.pool.QueryRow(ctx, getSessionSQL, id).Scan(&s.ID, &s.UserID, &s.Total, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session %q: %w", id, err)
	}
	return &s, nil
}

// Delete removes a session; line items cascade. Deleting a missing session
// is a no-op.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, deleteSessionSQL, id); err != nil {
		return fmt.Errorf("deleting session %q: %w", id, err)
	}
	return nil
}
