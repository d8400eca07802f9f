// Package monitor watches pending payments until the gateway settles them
// and hands terminal results to order fulfillment. It runs as a worker pool
// detached from request handling: canceling a request never cancels its
// monitor job.
package monitor

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// ErrQueueFull is returned by Schedule when the job buffer is saturated.
var ErrQueueFull = errors.New("monitor queue full")

// ErrStopped is returned by Schedule after the monitor shuts down.
var ErrStopped = errors.New("monitor stopped")

// Fulfiller applies a terminal payment status. Both the poll loop and
// webhook resolution call it.
type Fulfiller interface {
	Fulfill(ctx context.Context, paymentID string, sessionID uuid.UUID, status payment.Status) error
}

// Config bounds the polling loop. The reference deployment polls every 5s;
// MaxAttempts keeps a permanently-pending payment from being polled forever.
type Config struct {
	Workers        int
	QueueSize      int
	Interval       time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
}

type job struct {
	paymentID string
	sessionID uuid.UUID
}

// Monitor polls the gateway for scheduled payments on a fixed-size worker
// pool.
type Monitor struct {
	cfg       Config
	gateway   payment.Gateway
	payments  payment.Repository
	fulfiller Fulfiller
	jobs      chan job
	done      chan struct{}
	lg        *zap.Logger

	tracer  trace.Tracer
	polls   metric.Int64Counter
	settled metric.Int64Counter
}

// New creates a Monitor. Run must be started for scheduled jobs to make
// progress. Nil telemetry providers fall back to no-ops.
func New(
	cfg Config,
	gateway payment.Gateway,
	payments payment.Repository,
	fulfiller Fulfiller,
	lg *zap.Logger,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
) (*Monitor, error) {
	cfg.setDefaults()
	if lg == nil {
		lg = zap.NewNop()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	meter := mp.Meter("bookcart.monitor")
	polls, err := meter.Int64Counter("payment_monitor.gateway_polls",
		metric.WithDescription("Gateway status polls issued by the payment monitor"))
	if err != nil {
		return nil, errors.Wrap(err, "polls counter")
	}
	settled, err := meter.Int64Counter("payment_monitor.payments_settled",
		metric.WithDescription("Payments that reached a terminal status"))
	if err != nil {
		return nil, errors.Wrap(err, "settled counter")
	}

	return &Monitor{
		cfg:       cfg,
		gateway:   gateway,
		payments:  payments,
		fulfiller: fulfiller,
		jobs:      make(chan job, cfg.QueueSize),
		done:      make(chan struct{}),
		lg:        lg,
		tracer:    tp.Tracer("bookcart.monitor"),
		polls:     polls,
		settled:   settled,
	}, nil
}

// Schedule enqueues a payment for monitoring without blocking.
func (m *Monitor) Schedule(paymentID string, sessionID uuid.UUID) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.jobs <- job{paymentID: paymentID, sessionID: sessionID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is canceled, then drains the workers. It is
// meant to be started once from the process bootstrap.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range m.cfg.Workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j := <-m.jobs:
					m.watch(ctx, j)
				}
			}
		})
	}
	err := g.Wait()
	close(m.done)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watch polls one payment until it settles or the attempt budget runs out.
func (m *Monitor) watch(ctx context.Context, j job) {
	ctx, span := m.tracer.Start(ctx, "PaymentMonitor.Watch",
		trace.WithAttributes(attribute.String("payment.id", j.paymentID)))
	defer span.End()

	lg := m.lg.With(
		zap.String("payment_id", j.paymentID),
		zap.String("session_id", j.sessionID.String()),
	)

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		status, err := m.pollOnce(ctx, j.paymentID)
		if err != nil {
			lg.Warn("gateway status poll failed",
				zap.Int("attempt", attempt), zap.Error(err))
		} else if status.Terminal() {
			m.settled.Add(ctx, 1, metric.WithAttributes(
				attribute.String("status", string(status))))
			if err := m.fulfiller.Fulfill(ctx, j.paymentID, j.sessionID, status); err != nil {
				lg.Error("fulfillment failed", zap.Error(err))
				span.RecordError(err)
				span.SetStatus(codes.Error, "fulfillment failed")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.Interval):
		}
	}

	// Budget exhausted: mark the payment abandoned and keep the session so an
	// operator (or replayed webhook) can reconcile it.
	m.abandon(ctx, lg, j.paymentID)
	span.SetStatus(codes.Error, "attempt budget exhausted")
}

func (m *Monitor) pollOnce(ctx context.Context, paymentID string) (payment.Status, error) {
	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	m.polls.Add(ctx, 1)
	return m.gateway.GetStatus(pollCtx, paymentID)
}

func (m *Monitor) abandon(ctx context.Context, lg *zap.Logger, paymentID string) {
	if err := m.payments.Settle(ctx, paymentID, payment.StatusAbandoned); err != nil &&
		!errors.Is(err, payment.ErrAlreadySettled) {
		lg.Error("marking payment abandoned failed", zap.Error(err))
		return
	}
	m.settled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(payment.StatusAbandoned))))
	lg.Error("payment never settled, abandoned after attempt budget",
		zap.Int("attempts", m.cfg.MaxAttempts))
}

// Resolve applies a webhook-delivered settlement. The pending payment record
// supplies the session, so webhooks and polling converge on the same
// fulfillment path.
func (m *Monitor) Resolve(ctx context.Context, paymentID string, status payment.Status) error {
	ctx, span := m.tracer.Start(ctx, "PaymentMonitor.Resolve",
		trace.WithAttributes(
			attribute.String("payment.id", paymentID),
			attribute.String("payment.status", string(status)),
		))
	defer span.End()

	if !status.Terminal() {
		return errors.Errorf("non-terminal webhook status %q", status)
	}
	p, err := m.payments.GetByID(ctx, paymentID)
	if err != nil {
		return errors.Wrap(err, "lookup payment")
	}
	m.settled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status))))
	return m.fulfiller.Fulfill(ctx, paymentID, p.SessionID, status)
}
