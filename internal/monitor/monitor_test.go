package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// --- Mock implementations ---

// mockGateway serves a scripted sequence of statuses, then keeps returning
// the last one.
type mockGateway struct {
	mu       sync.Mutex
	statuses []payment.Status
	calls    int
}

func (m *mockGateway) CreatePayment(_ context.Context, _ payment.Request) (*payment.Created, error) {
	return nil, errors.New("not implemented")
}

func (m *mockGateway) GetStatus(_ context.Context, _ string) (payment.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.statuses) {
		i = len(m.statuses) - 1
	}
	return m.statuses[i], nil
}

type mockPaymentRepo struct {
	mu       sync.Mutex
	statuses map[string]payment.Status
}

func newMockPaymentRepo(ids ...string) *mockPaymentRepo {
	statuses := make(map[string]payment.Status, len(ids))
	for _, id := range ids {
		statuses[id] = payment.StatusPending
	}
	return &mockPaymentRepo{statuses: statuses}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *payment.PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[p.ID] = p.Status
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id string) (*payment.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &payment.PendingPayment{ID: id, SessionID: uuid.Nil, Status: status}, nil
}

func (m *mockPaymentRepo) Settle(_ context.Context, id string, status payment.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.statuses[id]
	if !ok {
		return payment.ErrNotFound
	}
	if current != payment.StatusPending {
		return payment.ErrAlreadySettled
	}
	m.statuses[id] = status
	return nil
}

func (m *mockPaymentRepo) status(id string) payment.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

type fulfillCall struct {
	paymentID string
	status    payment.Status
}

type mockFulfiller struct {
	mu    sync.Mutex
	calls []fulfillCall
	done  chan struct{}
}

func newMockFulfiller() *mockFulfiller {
	return &mockFulfiller{done: make(chan struct{}, 16)}
}

func (m *mockFulfiller) Fulfill(_ context.Context, paymentID string, _ uuid.UUID, status payment.Status) error {
	m.mu.Lock()
	m.calls = append(m.calls, fulfillCall{paymentID: paymentID, status: status})
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *mockFulfiller) snapshot() []fulfillCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fulfillCall(nil), m.calls...)
}

// --- Helpers ---

func testConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      8,
		Interval:       time.Millisecond,
		RequestTimeout: time.Second,
		MaxAttempts:    5,
	}
}

func newTestMonitor(t *testing.T, cfg Config, gw payment.Gateway, payments payment.Repository, f Fulfiller) *Monitor {
	t.Helper()
	m, err := New(cfg, gw, payments, f, nil, nil, nil)
	require.NoError(t, err)
	return m
}

func startMonitor(t *testing.T, m *Monitor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return cancel
}

func waitFulfilled(t *testing.T, f *mockFulfiller) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("fulfillment was never called")
	}
}

// --- Tests ---

func TestMonitor_PollsUntilTerminal(t *testing.T) {
	gw := &mockGateway{statuses: []payment.Status{
		payment.StatusPending,
		payment.StatusPending,
		payment.StatusSuccess,
	}}
	payments := newMockPaymentRepo("pay-1")
	fulfiller := newMockFulfiller()
	m := newTestMonitor(t, testConfig(), gw, payments, fulfiller)
	startMonitor(t, m)

	require.NoError(t, m.Schedule("pay-1", uuid.New()))
	waitFulfilled(t, fulfiller)

	calls := fulfiller.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "pay-1", calls[0].paymentID)
	assert.Equal(t, payment.StatusSuccess, calls[0].status)
}

func TestMonitor_FailedStatusReachesFulfiller(t *testing.T) {
	gw := &mockGateway{statuses: []payment.Status{payment.StatusFailed}}
	payments := newMockPaymentRepo("pay-1")
	fulfiller := newMockFulfiller()
	m := newTestMonitor(t, testConfig(), gw, payments, fulfiller)
	startMonitor(t, m)

	require.NoError(t, m.Schedule("pay-1", uuid.New()))
	waitFulfilled(t, fulfiller)

	calls := fulfiller.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, payment.StatusFailed, calls[0].status)
}

func TestMonitor_AbandonsAfterAttemptBudget(t *testing.T) {
	gw := &mockGateway{statuses: []payment.Status{payment.StatusPending}}
	payments := newMockPaymentRepo("pay-1")
	fulfiller := newMockFulfiller()
	m := newTestMonitor(t, testConfig(), gw, payments, fulfiller)
	startMonitor(t, m)

	require.NoError(t, m.Schedule("pay-1", uuid.New()))

	require.Eventually(t, func() bool {
		return payments.status("pay-1") == payment.StatusAbandoned
	}, 5*time.Second, 5*time.Millisecond)

	// Never fulfilled: the session is kept for reconciliation.
	assert.Empty(t, fulfiller.snapshot())
}

func TestMonitor_ScheduleQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	m := newTestMonitor(t, cfg, &mockGateway{statuses: []payment.Status{payment.StatusPending}}, newMockPaymentRepo(), newMockFulfiller())
	// Run is intentionally not started: jobs pile up in the buffer.

	require.NoError(t, m.Schedule("pay-1", uuid.New()))
	require.ErrorIs(t, m.Schedule("pay-2", uuid.New()), ErrQueueFull)
}

func TestMonitor_ScheduleAfterStop(t *testing.T) {
	m := newTestMonitor(t, testConfig(), &mockGateway{statuses: []payment.Status{payment.StatusPending}}, newMockPaymentRepo(), newMockFulfiller())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	require.ErrorIs(t, m.Schedule("pay-1", uuid.New()), ErrStopped)
}

func TestResolve_WebhookSettlement(t *testing.T) {
	payments := newMockPaymentRepo("pay-1")
	fulfiller := newMockFulfiller()
	m := newTestMonitor(t, testConfig(), &mockGateway{statuses: []payment.Status{payment.StatusPending}}, payments, fulfiller)

	err := m.Resolve(context.Background(), "pay-1", payment.StatusSuccess)
	require.NoError(t, err)

	calls := fulfiller.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, payment.StatusSuccess, calls[0].status)
}

func TestResolve_UnknownPayment(t *testing.T) {
	m := newTestMonitor(t, testConfig(), &mockGateway{statuses: []payment.Status{payment.StatusPending}}, newMockPaymentRepo(), newMockFulfiller())

	err := m.Resolve(context.Background(), "missing", payment.StatusSuccess)
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestResolve_NonTerminalRejected(t *testing.T) {
	m := newTestMonitor(t, testConfig(), &mockGateway{statuses: []payment.Status{payment.StatusPending}}, newMockPaymentRepo("pay-1"), newMockFulfiller())

	err := m.Resolve(context.Background(), "pay-1", payment.StatusPending)
	require.Error(t, err)
}
