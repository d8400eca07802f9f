package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmarkhas/bookcart/internal/domain/cart"
)

type sessionResponse struct {
	ID        uuid.UUID `json:"id"`
	Total     string    `json:"total"`
	ExpiresAt time.Time `json:"expires_at"`
}

type cartResponse struct {
	SessionID uuid.UUID      `json:"session_id"`
	Books     []bookLineView `json:"books"`
	Total     string         `json:"total"`
}

type bookLineView struct {
	BookID     uuid.UUID `json:"book_id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Categories []string  `json:"categories"`
	Price      string    `json:"price"`
	Discount   int       `json:"discount"`
	Rating     float64   `json:"rating"`
	Quantity   int       `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
}

func cartView(c *cart.Cart) cartResponse {
	books := make([]bookLineView, len(c.Books))
	for i, l := range c.Books {
		books[i] = bookLineView{
			BookID:     l.BookID,
			Title:      l.Title,
			Authors:    l.Authors,
			Categories: l.Categories,
			Price:      l.Price.StringFixed(2),
			Discount:   l.Discount,
			Rating:     l.Rating,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice().StringFixed(2),
		}
	}
	return cartResponse{
		SessionID: c.SessionID,
		Books:     books,
		Total:     c.Total().StringFixed(2),
	}
}

// createCart starts a shopping session and sets the session cookie. The
// cookie expiry mirrors the stored session record.
func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	session, err := h.carts.CreateSession(r.Context(), h.security.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID.String(),
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.writeJSON(w, http.StatusCreated, sessionResponse{
		ID:        session.ID,
		Total:     decimal.Zero.StringFixed(2),
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.carts.GetCart(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(c))
}

type addItemRequest struct {
	BookID   uuid.UUID `json:"book_id"`
	Quantity int       `json:"quantity"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	c, err := h.carts.AddItem(r.Context(), id, req.BookID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(c))
}

type removeItemRequest struct {
	BookID uuid.UUID `json:"book_id"`
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req removeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	c, err := h.carts.RemoveItem(r.Context(), id, req.BookID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(c))
}

// deleteCart tears the session down and expires the cookie. Idempotent: a
// second delete still answers 204.
func (h *Handler) deleteCart(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.carts.DeleteSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
