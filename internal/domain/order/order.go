package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is created once by successful fulfillment and is immutable
// afterward: its line items never touch inventory again.
type Order struct {
	ID        uuid.UUID
	UserID    *int64
	PaymentID string
	Status    string
	Total     decimal.Decimal
	Items     []LineItem
	CreatedAt time.Time
}

// LineItem mirrors a cart line at the moment of conversion. Title and
// UnitPrice are filled on reads for display; only BookID and CountOrdered
// are stored per line.
type LineItem struct {
	BookID       uuid.UUID
	Title        string
	UnitPrice    decimal.Decimal
	CountOrdered int
}

// Repository persists fulfilled orders.
type Repository interface {
	// Create inserts the order and all its line items atomically. A partially
	// populated order must never become visible.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUserID(ctx context.Context, userID int64) ([]Order, error)
}
