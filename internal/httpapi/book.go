package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmarkhas/bookcart/internal/domain/book"
)

type bookResponse struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Categories []string  `json:"categories"`
	Price      string    `json:"price"`
	Discount   int       `json:"discount"`
	FinalPrice string    `json:"final_price"`
	Rating     float64   `json:"rating"`
	StockCount int       `json:"stock_count"`
}

// getBook returns one catalog entry with its discounted price, so clients
// can render a book before adding it to the cart.
func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, book.ErrNotFound)
		return
	}
	b, err := h.books.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookResponse{
		ID:         b.ID,
		Title:      b.Title,
		Authors:    b.Authors,
		Categories: b.Categories,
		Price:      b.Price.StringFixed(2),
		Discount:   b.Discount,
		FinalPrice: b.PriceWithDiscount().StringFixed(2),
		Rating:     b.Rating,
		StockCount: b.StockCount,
	})
}
