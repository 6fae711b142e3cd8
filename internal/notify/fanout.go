package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	DefaultTimeout   = 5 * time.Second
)

// Options tunes a FanOut.
type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single Dispatch call.
	Timeout time.Duration
}

// Stats is a snapshot of FanOut counters.
type Stats struct {
	Dispatched uint64
	Failed     uint64
	Dropped    uint64
}

type job struct {
	ctx context.Context
	n   Notification
}

// FanOut queues notifications and dispatches them on a fixed pool of
// workers. Enqueue never blocks: when the queue is full or the FanOut is
// closed the notification is dropped and logged.
type FanOut struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	timeout    time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup

	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	outcomes   metric.Int64Counter
}

// NewFanOut starts the worker pool and returns the FanOut. Callers must
// call Close to drain it.
func NewFanOut(d Dispatcher, opts Options, logger *slog.Logger, mp metric.MeterProvider) (*FanOut, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	outcomes, err := mp.Meter("github.com/jensholdgaard/bidengine/internal/notify").Int64Counter(
		"bidengine.notifications",
		metric.WithDescription("Notifications by outcome (dispatched, failed, dropped)."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating notification counter: %w", err)
	}

	f := &FanOut{
		dispatcher: d,
		logger:     logger,
		timeout:    opts.Timeout,
		queue:      make(chan job, opts.QueueSize),
		outcomes:   outcomes,
	}
	for range opts.Workers {
		f.wg.Add(1)
		go f.work()
	}
	return f, nil
}

// Enqueue schedules n for dispatch and reports whether it was queued. The
// dispatch keeps ctx values but not its cancellation, so a finished request
// does not abort its notifications.
func (f *FanOut) Enqueue(ctx context.Context, n Notification) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		f.drop(ctx, n, "closed")
		return false
	}
	select {
	case f.queue <- job{ctx: context.WithoutCancel(ctx), n: n}:
		return true
	default:
		f.drop(ctx, n, "queue full")
		return false
	}
}

// Close stops accepting notifications and waits until queued ones are
// dispatched or ctx is done.
func (f *FanOut) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining notifications: %w", ctx.Err())
	}
}

// Stats returns the current counters.
func (f *FanOut) Stats() Stats {
	return Stats{
		Dispatched: f.dispatched.Load(),
		Failed:     f.failed.Load(),
		Dropped:    f.dropped.Load(),
	}
}

func (f *FanOut) work() {
	defer f.wg.Done()
	for j := range f.queue {
		f.dispatch(j)
	}
}

func (f *FanOut) dispatch(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, f.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatcher panic: %v", r)
			}
		}()
		return f.dispatcher.Dispatch(ctx, j.n)
	}()

	if err != nil {
		f.failed.Add(1)
		f.record(ctx, "failed", j.n.Kind)
		f.logger.ErrorContext(ctx, "notification dispatch failed",
			slog.String("user_id", j.n.UserID),
			slog.String("kind", string(j.n.Kind)),
			slog.String("product_id", j.n.ProductID),
			slog.Any("error", err),
		)
		return
	}
	f.dispatched.Add(1)
	f.record(ctx, "dispatched", j.n.Kind)
}

func (f *FanOut) drop(ctx context.Context, n Notification, reason string) {
	f.dropped.Add(1)
	f.record(ctx, "dropped", n.Kind)
	f.logger.WarnContext(ctx, "notification dropped",
		slog.String("reason", reason),
		slog.String("user_id", n.UserID),
		slog.String("kind", string(n.Kind)),
		slog.String("product_id", n.ProductID),
	)
}

func (f *FanOut) record(ctx context.Context, outcome string, kind Kind) {
	f.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", string(kind)),
	))
}
