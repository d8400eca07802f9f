// Package httpapi exposes the cart, checkout, order and webhook endpoints.
// The session id travels exclusively in an httpOnly cookie; clients never
// send it in paths or bodies.
package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmarkhas/bookcart/internal/domain/book"
	"github.com/dmarkhas/bookcart/internal/domain/cart"
	"github.com/dmarkhas/bookcart/internal/domain/checkout"
	"github.com/dmarkhas/bookcart/internal/domain/order"
	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// SessionCookie is the cookie carrying the shopping session id.
const SessionCookie = "shopping_session_id"

// PaymentResolver applies a webhook-delivered settlement.
type PaymentResolver interface {
	Resolve(ctx context.Context, paymentID string, status payment.Status) error
}

// Handler holds the domain services behind the HTTP surface.
type Handler struct {
	carts    *cart.Service
	checkout *checkout.Service
	books    book.Repository
	orders   order.Repository
	resolver PaymentResolver
	security *Security
	lg       *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	carts *cart.Service,
	co *checkout.Service,
	books book.Repository,
	orders order.Repository,
	resolver PaymentResolver,
	security *Security,
	lg *zap.Logger,
) *Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handler{
		carts:    carts,
		checkout: co,
		books:    books,
		orders:   orders,
		resolver: resolver,
		security: security,
		lg:       lg,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/cart", h.createCart)
	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("DELETE /api/cart", h.deleteCart)
	mux.HandleFunc("POST /api/cart/items", h.addItem)
	mux.HandleFunc("DELETE /api/cart/items", h.removeItem)
	mux.HandleFunc("GET /api/books/{id}", h.getBook)
	mux.HandleFunc("GET /api/checkout", h.startCheckout)
	mux.HandleFunc("POST /api/webhooks/payment", h.paymentWebhook)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
}

// sessionID extracts the shopping session id from the request cookie. A
// missing or malformed cookie reads as session-not-found: the client has no
// cart from the API's point of view.
func sessionID(r *http.Request) (uuid.UUID, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return uuid.Nil, cart.ErrSessionNotFound
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return uuid.Nil, cart.ErrSessionNotFound
	}
	return id, nil
}
