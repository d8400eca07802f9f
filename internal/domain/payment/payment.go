package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the settlement state of a payment.
type Status string

const (
	// StatusPending means the gateway has not settled the payment yet.
	StatusPending Status = "pending"
	// StatusSuccess means the gateway confirmed the charge.
	StatusSuccess Status = "success"
	// StatusFailed means the charge failed or was canceled.
	StatusFailed Status = "failed"
	// StatusAbandoned means the monitor gave up after its attempt budget;
	// the payment needs operator reconciliation.
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status is a settlement (the monitor stops
// polling on it).
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ErrNotFound is returned when no pending payment exists for an id.
var ErrNotFound = errors.New("payment not found")

// ErrAlreadySettled is returned when settling a payment a second time. A
// payment transitions out of pending exactly once.
var ErrAlreadySettled = errors.New("payment already settled")

// PendingPayment tracks a gateway payment from creation until settlement.
// The id is issued by the gateway and accepted as given.
type PendingPayment struct {
	ID        string
	SessionID uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Provider  string
	Status    Status
	CreatedAt time.Time
}

// Repository persists pending payments.
type Repository interface {
	Create(ctx context.Context, p *PendingPayment) error
	GetByID(ctx context.Context, id string) (*PendingPayment, error)
	// Settle moves a payment out of pending. It returns ErrAlreadySettled
	// when the payment left pending earlier, ErrNotFound when the id is
	// unknown.
	Settle(ctx context.Context, id string, status Status) error
}

// Request describes the charge the checkout orchestrator asks the gateway
// to create.
type Request struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	CustomerID  *int64
}

// Created is the gateway's answer to a successful create call.
type Created struct {
	PaymentID   string
	RedirectURL string
}

// Gateway is the external payment provider boundary. Implementations must
// honor the context deadline; a hung provider must not block callers forever.
type Gateway interface {
	CreatePayment(ctx context.Context, req Request) (*Created, error)
	GetStatus(ctx context.Context, paymentID string) (Status, error)
}
