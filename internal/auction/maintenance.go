package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/jensholdgaard/bidengine/internal/clock"
)

// Maintainer is the work a Maintenance loop schedules.
type Maintainer interface {
	SweepExpiredAuctions(ctx context.Context, now time.Time) (int, error)
	Reconcile(ctx context.Context) (Report, error)
}

// Maintenance runs the expiry sweep and the reconciliation pass on fixed
// intervals. Only one replica should run it; see package leader.
type Maintenance struct {
	work           Maintainer
	sweepEvery     time.Duration
	reconcileEvery time.Duration
	logger         *slog.Logger
	clock          clock.Clock
	newTicker      clock.TickerFunc
}

// MaintenanceOption configures a Maintenance loop.
type MaintenanceOption func(*Maintenance)

// WithTickerFunc replaces the source of interval ticks.
func WithTickerFunc(f clock.TickerFunc) MaintenanceOption {
	return func(m *Maintenance) { m.newTicker = f }
}

// NewMaintenance returns a Maintenance loop. A non-positive interval
// disables that job.
func NewMaintenance(work Maintainer, sweepEvery, reconcileEvery time.Duration, logger *slog.Logger, clk clock.Clock, opts ...MaintenanceOption) *Maintenance {
	m := &Maintenance{
		work:           work,
		sweepEvery:     sweepEvery,
		reconcileEvery: reconcileEvery,
		logger:         logger,
		clock:          clk,
		newTicker:      clock.NewTicker,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run performs both jobs once and then on every tick until ctx is done.
// Job failures are logged and do not stop the loop.
func (m *Maintenance) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "maintenance loop started",
		slog.Duration("sweep_interval", m.sweepEvery),
		slog.Duration("reconcile_interval", m.reconcileEvery),
	)

	sweepC, stopSweep := m.tick(m.sweepEvery)
	reconcileC, stopReconcile := m.tick(m.reconcileEvery)
	defer stopSweep()
	defer stopReconcile()

	if m.sweepEvery > 0 {
		m.sweep(ctx)
	}
	if m.reconcileEvery > 0 {
		m.reconcile(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "maintenance loop stopped")
			return nil
		case <-sweepC:
			m.sweep(ctx)
		case <-reconcileC:
			m.reconcile(ctx)
		}
	}
}

func (m *Maintenance) sweep(ctx context.Context) {
	if _, err := m.work.SweepExpiredAuctions(ctx, m.clock.Now()); err != nil && ctx.Err() == nil {
		m.logger.ErrorContext(ctx, "expiry sweep failed", slog.Any("error", err))
	}
}

func (m *Maintenance) reconcile(ctx context.Context) {
	if _, err := m.work.Reconcile(ctx); err != nil && ctx.Err() == nil {
		m.logger.ErrorContext(ctx, "reconciliation failed", slog.Any("error", err))
	}
}

// tick starts a ticker for d. A disabled job gets a nil channel, which
// never fires.
func (m *Maintenance) tick(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := m.newTicker(d)
	return t.C(), t.Stop
}
