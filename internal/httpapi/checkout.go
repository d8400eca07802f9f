package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

type checkoutResponse struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

// startCheckout creates the gateway payment and returns the confirmation URL
// the customer is redirected to. Settlement is applied asynchronously by the
// monitor or a webhook.
func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.checkout.Checkout(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkoutResponse{
		PaymentID:       res.PaymentID,
		ConfirmationURL: res.ConfirmationURL,
	})
}

type webhookRequest struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// paymentWebhook applies a provider-delivered settlement. It converges on
// the same fulfillment path as the polling monitor, so a webhook racing a
// poll (or a replayed delivery) is harmless.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	var status payment.Status
	switch req.Status {
	case "succeeded", string(payment.StatusSuccess):
		status = payment.StatusSuccess
	case "canceled", string(payment.StatusFailed):
		status = payment.StatusFailed
	default:
		h.badRequest(w, "unknown payment status")
		return
	}

	if err := h.resolver.Resolve(r.Context(), req.PaymentID, status); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
