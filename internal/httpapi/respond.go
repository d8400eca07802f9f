package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/dmarkhas/bookcart/internal/domain/book"
	"github.com/dmarkhas/bookcart/internal/domain/cart"
	"github.com/dmarkhas/bookcart/internal/domain/checkout"
	"github.com/dmarkhas/bookcart/internal/domain/order"
	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.lg.Warn("response write failed", zap.Error(err))
	}
}

// writeError maps a domain error onto the taxonomy: not-found 404, stock
// shortfall and bad input 400, duplicate cart 409, gateway failure and
// everything else 500. Internal details never reach the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, "internal server error"

	var oos *cart.OutOfStockError
	switch {
	case errors.Is(err, cart.ErrSessionNotFound),
		errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, book.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.As(err, &oos):
		status, message = http.StatusBadRequest, oos.Error()
	case errors.Is(err, cart.ErrInvalidQuantity):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, cart.ErrCartExists):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, checkout.ErrGateway):
		message = "payment gateway error"
	}

	if status == http.StatusInternalServerError {
		h.lg.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	h.writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{
		Code:    http.StatusBadRequest,
		Message: message,
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, errorResponse{
		Code:    http.StatusUnauthorized,
		Message: "unauthorized",
	})
}
