package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarkhas/bookcart/internal/domain/book"
	"github.com/google/uuid"
)

const getBookSQL = `SELECT id, title, authors, categories, price, discount, COALESCE(rating, 0), stock_count
	FROM books WHERE id = $1`

var _ book.Repository = (*BookRepository)(nil)

// BookRepository implements book.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// GetByID returns a single book, or book.ErrNotFound.
func (r *BookRepository) GetByID(ctx context.Context, id uuid.UUID) (*book.Book, error) {
	var b book.Book
	err := r.pool.QueryRow(ctx, getBookSQL, id).Scan(
		&b.ID, &b.Title, &b.Authors, &b.Categories,
		&b.Price, &b.Discount, &b.Rating, &b.StockCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %q: %w", id, err)
	}
	return &b, nil
}
