package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmarkhas/bookcart/internal/domain/book"
	"github.com/dmarkhas/bookcart/internal/domain/cart"
)

const (
	assembleCartSQL = `SELECT b.id, b.title, b.authors, b.categories, b.price, b.discount, COALESCE(b.rating, 0), ci.quantity
		FROM cart_items ci
		JOIN books b ON b.id = ci.book_id
		WHERE ci.session_id = $1
		ORDER BY ci.added_at, b.id`

	lockBookSQL = `SELECT price, discount, stock_count FROM books WHERE id = $1 FOR UPDATE`

	upsertLineSQL = `INSERT INTO cart_items (session_id, book_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, book_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	reserveStockSQL = `UPDATE books SET stock_count = stock_count - $2 WHERE id = $1`

	bumpTotalSQL = `UPDATE shopping_sessions SET total = total + $2 WHERE id = $1`

	deleteLineSQL = `DELETE FROM cart_items WHERE session_id = $1 AND book_id = $2
		RETURNING quantity`

	deleteAllLinesSQL = `DELETE FROM cart_items WHERE session_id = $1`
)

// foreignKeyViolation is raised when a line item references a missing
// session.
const foreignKeyViolation = "23503"

var _ cart.Store = (*CartRepository)(nil)

// CartRepository implements cart.Store backed by PostgreSQL. Every mutation
// runs in one transaction with the book row locked, so concurrent adds for
// the same book serialize and stock can never go negative.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Assemble joins the session's line items with book display data. It returns
// cart.ErrCartNotFound when the session has no items.
func (r *CartRepository) Assemble(ctx context.Context, sessionID uuid.UUID) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, assembleCartSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("assembling cart %q: %w", sessionID, err)
	}
	defer rows.Close()

	out := &cart.Cart{SessionID: sessionID}
	for rows.Next() {
		var l cart.BookLine
		if err := rows.Scan(
			&l.BookID, &l.Title, &l.Authors, &l.Categories,
			&l.Price, &l.Discount, &l.Rating, &l.Quantity,
		); err != nil {
			return nil, fmt.Errorf("scanning cart line: %w", err)
		}
		out.Books = append(out.Books, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cart %q: %w", sessionID, err)
	}
	if len(out.Books) == 0 {
		return nil, cart.ErrCartNotFound
	}
	return out, nil
}

// Add reserves qty from the book's stock and upserts the line item in a
// single transaction. The book row lock serializes concurrent adds; the
// availability check happens under that lock, so the CHECK constraint on
// stock_count is a backstop, not the mechanism.
func (r *CartRepository) Add(ctx context.Context, sessionID, bookID uuid.UUID, qty int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning add tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		price    decimal.Decimal
		discount int
		stock    int
	)
	err = tx.QueryRow(ctx, lockBookSQL, bookID).Scan(&price, &discount, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return book.ErrNotFound
		}
		return fmt.Errorf("locking book %q: %w", bookID, err)
	}

	if qty > stock {
		return &cart.OutOfStockError{BookID: bookID, Available: stock}
	}

	if _, err := tx.Exec(ctx, upsertLineSQL, sessionID, bookID, qty); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return cart.ErrSessionNotFound
		}
		return fmt.Errorf("upserting line item: %w", err)
	}

	if _, err := tx.Exec(ctx, reserveStockSQL, bookID, qty); err != nil {
		return fmt.Errorf("reserving stock: %w", err)
	}

	delta := unitPrice(price, discount).Mul(decimal.NewFromInt(int64(qty)))
	if _, err := tx.Exec(ctx, bumpTotalSQL, sessionID, delta); err != nil {
		return fmt.Errorf("updating session total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing add: %w", err)
	}
	return nil
}

// Remove deletes a line item and subtracts its value from the session total.
// Reserved stock stays consumed. Returns cart.ErrLineNotFound when the book
// is not in the cart.
func (r *CartRepository) Remove(ctx context.Context, sessionID, bookID uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning remove tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var qty int
	err = tx.QueryRow(ctx, deleteLineSQL, sessionID, bookID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.ErrLineNotFound
		}
		return fmt.Errorf("deleting line item: %w", err)
	}

	var (
		price    decimal.Decimal
		discount int
	)
	err = tx.QueryRow(ctx, `SELECT price, discount FROM books WHERE id = $1`, bookID).Scan(&price, &discount)
	if err != nil {
		return fmt.Errorf("reading book price: %w", err)
	}

	delta := unitPrice(price, discount).Mul(decimal.NewFromInt(int64(qty))).Neg()
	if _, err := tx.Exec(ctx, bumpTotalSQL, sessionID, delta); err != nil {
		return fmt.Errorf("updating session total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing remove: %w", err)
	}
	return nil
}

// DeleteAll removes every line item of a session. Idempotent.
func (r *CartRepository) DeleteAll(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, deleteAllLinesSQL, sessionID); err != nil {
		return fmt.Errorf("deleting cart %q: %w", sessionID, err)
	}
	return nil
}

func unitPrice(price decimal.Decimal, discount int) decimal.Decimal {
	if discount == 0 {
		return price.Round(2)
	}
	factor := decimal.NewFromInt(100 - int64(discount)).Div(decimal.NewFromInt(100))
	return price.Mul(factor).Round(2)
}
