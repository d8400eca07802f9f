package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmarkhas/bookcart/internal/domain/order"
)

type orderResponse struct {
	ID        uuid.UUID       `json:"id"`
	PaymentID string          `json:"payment_id"`
	Status    string          `json:"status"`
	Total     string          `json:"total"`
	Items     []orderItemView `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

type orderItemView struct {
	BookID       uuid.UUID `json:"book_id"`
	Title        string    `json:"title"`
	UnitPrice    string    `json:"unit_price"`
	CountOrdered int       `json:"count_ordered"`
}

func orderView(o *order.Order) orderResponse {
	items := make([]orderItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemView{
			BookID:       it.BookID,
			Title:        it.Title,
			UnitPrice:    it.UnitPrice.StringFixed(2),
			CountOrdered: it.CountOrdered,
		}
	}
	return orderResponse{
		ID:        o.ID,
		PaymentID: o.PaymentID,
		Status:    o.Status,
		Total:     o.Total.StringFixed(2),
		Items:     items,
		CreatedAt: o.CreatedAt,
	}
}

// getOrder returns one order. Orders owned by a user are only visible to
// that user; everything else reads as not found, never as forbidden.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, order.ErrNotFound)
		return
	}
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if o.UserID != nil {
		userID := h.security.userID(r)
		if userID == nil || *userID != *o.UserID {
			h.writeError(w, r, order.ErrNotFound)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, orderView(o))
}

// listOrders returns the authenticated user's orders, newest first.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.security.requireUserID(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	orders, err := h.orders.ListByUserID(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]orderResponse, len(orders))
	for i := range orders {
		views[i] = orderView(&orders[i])
	}
	h.writeJSON(w, http.StatusOK, views)
}
