package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmarkhas/bookcart/internal/domain/cart"
	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// CartAccess is the slice of the cart service fulfillment needs: reading the
// assembled cart and tearing the session down.
type CartAccess interface {
	GetCart(ctx context.Context, sessionID uuid.UUID) (*cart.Cart, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// Fulfillment converts settled payments into orders. Both the polling
// monitor and the webhook handler converge on Fulfill, so it must tolerate
// replays: once the session is gone the success path is a no-op.
type Fulfillment struct {
	sessions cart.SessionStore
	carts    CartAccess
	payments payment.Repository
	orders   Repository
	lg       *zap.Logger
}

// NewFulfillment creates a Fulfillment service.
func NewFulfillment(
	sessions cart.SessionStore,
	carts CartAccess,
	payments payment.Repository,
	orders Repository,
	lg *zap.Logger,
) *Fulfillment {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Fulfillment{
		sessions: sessions,
		carts:    carts,
		payments: payments,
		orders:   orders,
		lg:       lg,
	}
}

// Fulfill applies a terminal payment status to the session's cart.
//
// Success: mark the payment settled, convert the cart lines into an order
// with its line items in one transaction, then delete the session last so a
// crash mid-fulfillment leaves a paid cart recoverable instead of silently
// dropped. Failure: delete the session so a fresh checkout can start;
// inventory is left untouched.
func (f *Fulfillment) Fulfill(ctx context.Context, paymentID string, sessionID uuid.UUID, status payment.Status) error {
	lg := f.lg.With(
		zap.String("payment_id", paymentID),
		zap.String("session_id", sessionID.String()),
	)

	switch status {
	case payment.StatusSuccess:
		return f.fulfillSuccess(ctx, lg, paymentID, sessionID)
	case payment.StatusFailed:
		if err := f.payments.Settle(ctx, paymentID, payment.StatusFailed); err != nil &&
			!errors.Is(err, payment.ErrAlreadySettled) && !errors.Is(err, payment.ErrNotFound) {
			return errors.Wrap(err, "settle failed payment")
		}
		if err := f.carts.DeleteSession(ctx, sessionID); err != nil {
			return errors.Wrap(err, "delete session after failed payment")
		}
		lg.Info("payment failed, session torn down")
		return nil
	default:
		return errors.Errorf("non-terminal status %q", status)
	}
}

func (f *Fulfillment) fulfillSuccess(ctx context.Context, lg *zap.Logger, paymentID string, sessionID uuid.UUID) error {
	c, err := f.carts.GetCart(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cart.ErrCartNotFound) || errors.Is(err, cart.ErrSessionNotFound) {
			// Session already converted or deleted: replayed webhook or
			// duplicate poll result. Nothing to apply.
			lg.Info("session gone, fulfillment is a no-op")
			return nil
		}
		return errors.Wrap(err, "fetch cart")
	}

	session, err := f.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cart.ErrSessionNotFound) {
			lg.Info("session gone, fulfillment is a no-op")
			return nil
		}
		return errors.Wrap(err, "fetch session")
	}

	if err := f.payments.Settle(ctx, paymentID, payment.StatusSuccess); err != nil {
		if !errors.Is(err, payment.ErrAlreadySettled) {
			return errors.Wrap(err, "settle payment")
		}
		// A prior run settled the payment but crashed before teardown.
		// Continue so the order still gets created.
		lg.Warn("payment already settled, resuming fulfillment")
	}

	items := make([]LineItem, len(c.Books))
	for i, l := range c.Books {
		items[i] = LineItem{
			BookID:       l.BookID,
			CountOrdered: l.Quantity,
		}
	}

	o := &Order{
		ID:        uuid.New(),
		UserID:    session.UserID,
		PaymentID: paymentID,
		Status:    "success",
		Total:     c.Total(),
		Items:     items,
	}
	if err := f.orders.Create(ctx, o); err != nil {
		// The transaction rolled back: no half-populated order exists and the
		// session survives for a retry.
		lg.Error("order creation failed", zap.Error(err))
		return errors.Wrap(err, "create order")
	}

	// Teardown is deliberately last.
	if err := f.carts.DeleteSession(ctx, sessionID); err != nil {
		return errors.Wrap(err, "delete session")
	}

	lg.Info("order fulfilled",
		zap.String("order_id", o.ID.String()),
		zap.String("total", o.Total.String()),
		zap.Int("lines", len(items)),
	)
	return nil
}
