// Package checkout orchestrates the transition from an active shopping
// session to a pending payment watched by the background monitor.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmarkhas/bookcart/internal/domain/cart"
	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// ErrGateway wraps payment provider failures. The checkout attempt is
// abandoned before anything is persisted, so the client may retry safely.
var ErrGateway = errors.New("payment gateway error")

// CartReader is the slice of the cart service checkout needs.
type CartReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*cart.ShoppingSession, error)
	GetCart(ctx context.Context, sessionID uuid.UUID) (*cart.Cart, error)
}

// Scheduler hands a settled-status watch over to the background monitor.
// Scheduling must not block the request: implementations return an error
// when the queue is full instead of waiting.
type Scheduler interface {
	Schedule(paymentID string, sessionID uuid.UUID) error
}

// Result is returned to the client immediately; settlement happens
// asynchronously.
type Result struct {
	PaymentID       string
	ConfirmationURL string
}

// Service validates a session, creates the gateway payment, records it as
// pending, and schedules monitoring.
type Service struct {
	carts    CartReader
	gateway  payment.Gateway
	payments payment.Repository
	monitor  Scheduler
	currency string
	provider string
	lg       *zap.Logger
}

// NewService creates a checkout Service.
func NewService(
	carts CartReader,
	gateway payment.Gateway,
	payments payment.Repository,
	monitor Scheduler,
	currency, provider string,
	lg *zap.Logger,
) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		carts:    carts,
		gateway:  gateway,
		payments: payments,
		monitor:  monitor,
		currency: currency,
		provider: provider,
		lg:       lg,
	}
}

// Checkout runs the synchronous half of the payment pipeline and returns the
// gateway's confirmation URL. The HTTP response does not wait for settlement.
func (s *Service) Checkout(ctx context.Context, sessionID uuid.UUID) (*Result, error) {
	session, err := s.carts.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// An empty cart is permitted: the charge amount falls back to the
	// session's running total, which is zero for a never-filled cart.
	c, err := s.carts.GetCart(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, cart.ErrCartNotFound) {
			return nil, errors.Wrap(err, "assemble cart")
		}
		c = &cart.Cart{SessionID: sessionID}
	}

	req := payment.Request{
		Amount:      c.Total(),
		Currency:    s.currency,
		Description: describe(c),
		CustomerID:  session.UserID,
	}

	created, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		s.lg.Error("gateway payment creation failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, errors.Wrap(ErrGateway, err.Error())
	}

	pending := &payment.PendingPayment{
		ID:        created.PaymentID,
		SessionID: sessionID,
		Amount:    req.Amount,
		Currency:  s.currency,
		Provider:  s.provider,
		Status:    payment.StatusPending,
	}
	if err := s.payments.Create(ctx, pending); err != nil {
		// The payment exists at the provider but is untracked locally: a
		// reconciliation gap. Surface it loudly; re-running checkout would
		// double-charge.
		s.lg.Error("pending payment not persisted, provider-side reconciliation required",
			zap.String("payment_id", created.PaymentID),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return nil, errors.Wrap(err, "persist pending payment")
	}

	if err := s.monitor.Schedule(created.PaymentID, sessionID); err != nil {
		// The payment is tracked; a webhook or operator replay can still
		// settle it. Do not fail the checkout.
		s.lg.Error("monitor scheduling failed, relying on webhook delivery",
			zap.String("payment_id", created.PaymentID), zap.Error(err))
	}

	s.lg.Info("checkout started",
		zap.String("payment_id", created.PaymentID),
		zap.String("session_id", sessionID.String()),
		zap.String("amount", req.Amount.String()),
	)

	return &Result{
		PaymentID:       created.PaymentID,
		ConfirmationURL: created.RedirectURL,
	}, nil
}

// describe builds the human-readable charge description enumerating the
// line items.
func describe(c *cart.Cart) string {
	if len(c.Books) == 0 {
		return "Order: empty cart"
	}
	parts := make([]string, len(c.Books))
	for i, l := range c.Books {
		parts[i] = fmt.Sprintf("%d x %s", l.Quantity, l.Title)
	}
	return "Order: " + strings.Join(parts, ", ")
}
