package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart operations.
var (
	// ErrSessionNotFound is returned when a shopping session does not exist
	// or has expired.
	ErrSessionNotFound = errors.New("shopping session not found")
	// ErrCartNotFound is returned when a session has no line items. At the
	// store level an empty cart is indistinguishable from a missing session.
	ErrCartNotFound = errors.New("cart not found")
	// ErrLineNotFound is returned when removing a book that is not in the cart.
	ErrLineNotFound = errors.New("book not in cart")
	// ErrCartExists is returned when an authenticated user already has an
	// active shopping session.
	ErrCartExists = errors.New("cart already exists")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrCacheMiss is returned by Cache implementations when no unexpired
	// entry exists for a session.
	ErrCacheMiss = errors.New("cache miss")
)

// OutOfStockError indicates a requested quantity exceeds the book's
// availability. Available carries the remaining stock for the error body.
type OutOfStockError struct {
	BookID    uuid.UUID
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("only %d left in stock", e.Available)
}

// ShoppingSession is the durable identity of one in-progress cart. UserID is
// nil for guest carts. Total is a denormalized running sum maintained by the
// store inside the same transaction as each line-item mutation.
type ShoppingSession struct {
	ID        uuid.UUID
	UserID    *int64
	Total     decimal.Decimal
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiration time.
func (s *ShoppingSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// LineItem is one (book, quantity) pair within a cart. At most one line item
// exists per (session, book) pair; duplicate adds increment the quantity.
type LineItem struct {
	SessionID uuid.UUID
	BookID    uuid.UUID
	Quantity  int
}

// BookLine is a line item joined with the book's display data, as returned to
// clients and mirrored into the cache.
type BookLine struct {
	BookID     uuid.UUID
	Title      string
	Authors    []string
	Categories []string
	Price      decimal.Decimal
	Discount   int
	Rating     float64
	Quantity   int
}

// UnitPrice returns the discounted price of one copy.
func (l BookLine) UnitPrice() decimal.Decimal {
	if l.Discount == 0 {
		return l.Price.Round(2)
	}
	factor := decimal.NewFromInt(100 - int64(l.Discount)).Div(decimal.NewFromInt(100))
	return l.Price.Mul(factor).Round(2)
}

// Cart is the assembled view of a session's line items.
type Cart struct {
	SessionID uuid.UUID
	Books     []BookLine
}

// Total sums the discounted line prices.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Books {
		total = total.Add(l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total.Round(2)
}

// SessionStore persists shopping sessions.
type SessionStore interface {
	// Create inserts a new session. It returns ErrCartExists when the owning
	// user already has one.
	Create(ctx context.Context, s *ShoppingSession) error
	// GetByID returns ErrSessionNotFound when no such session exists.
	GetByID(ctx context.Context, id uuid.UUID) (*ShoppingSession, error)
	// Delete removes a session and cascades to its line items. Deleting a
	// missing session is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Store owns a session's mutable contents. Every mutation runs in a single
// database transaction together with the stock movement backing it.
type Store interface {
	// Assemble joins the session's line items with book display data. It
	// returns ErrCartNotFound when the session has no items.
	Assemble(ctx context.Context, sessionID uuid.UUID) (*Cart, error)
	// Add reserves qty from the book's stock and upserts the line item,
	// incrementing the quantity when the book is already present. It returns
	// book.ErrNotFound or *OutOfStockError.
	Add(ctx context.Context, sessionID, bookID uuid.UUID, qty int) error
	// Remove deletes a line item without restoring stock. It returns
	// ErrLineNotFound when the book is not in the cart.
	Remove(ctx context.Context, sessionID, bookID uuid.UUID) error
	// DeleteAll removes every line item of a session. Idempotent.
	DeleteAll(ctx context.Context, sessionID uuid.UUID) error
}

// Cache mirrors assembled carts with a TTL. It is a read optimization, never
// a consistency source: implementations must degrade to ErrCacheMiss when the
// backend is unavailable, and callers swallow Store/Invalidate failures.
type Cache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*Cart, error)
	Store(ctx context.Context, c *Cart) error
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}
