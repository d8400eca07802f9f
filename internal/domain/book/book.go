package book

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested book does not exist.
var ErrNotFound = errors.New("book not found")

// Book represents a catalog item available for purchase. StockCount is the
// authoritative inventory counter; every decrement goes through the cart
// store's reservation transaction and never drops below zero.
type Book struct {
	ID         uuid.UUID
	Title      string
	Authors    []string
	Categories []string
	Price      decimal.Decimal
	Discount   int // percent, 0..100
	Rating     float64
	StockCount int
}

// PriceWithDiscount returns price × (1 − discount/100) rounded to 2 decimal
// places.
func (b Book) PriceWithDiscount() decimal.Decimal {
	if b.Discount == 0 {
		return b.Price.Round(2)
	}
	factor := decimal.NewFromInt(100 - int64(b.Discount)).Div(decimal.NewFromInt(100))
	return b.Price.Mul(factor).Round(2)
}

// Repository defines read operations for the book catalog. Stock mutations
// are not exposed here: they happen inside cart and fulfillment transactions
// under row-level locking.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Book, error)
}
