package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jensholdgaard/bidengine/internal/notify"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []notify.Notification
	errs map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs[n.UserID]; err != nil {
		return err
	}
	d.got = append(d.got, n)
	return nil
}

func (d *recordingDispatcher) users() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, n := range d.got {
		out = append(out, n.UserID)
	}
	return out
}

func newFanOut(t *testing.T, d notify.Dispatcher, opts notify.Options) *notify.FanOut {
	t.Helper()
	f, err := notify.NewFanOut(d, opts, slog.Default(), noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewFanOut: %v", err)
	}
	return f
}

func TestFanOut_DispatchesAndDrains(t *testing.T) {
	d := &recordingDispatcher{}
	f := newFanOut(t, d, notify.Options{Workers: 2, QueueSize: 16})

	for _, u := range []string{"a", "b", "c"} {
		if !f.Enqueue(context.Background(), notify.Notification{UserID: u, Kind: notify.KindOutbid}) {
			t.Fatalf("Enqueue(%s) dropped", u)
		}
	}
	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(d.users()); got != 3 {
		t.Errorf("dispatched %d notifications, want 3", got)
	}
	if s := f.Stats(); s.Dispatched != 3 || s.Failed != 0 || s.Dropped != 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestFanOut_FailuresAreCountedNotPropagated(t *testing.T) {
	var logs bytes.Buffer
	d := &recordingDispatcher{errs: map[string]error{"bad": errors.New("broker down")}}
	f, err := notify.NewFanOut(d, notify.Options{Workers: 1}, slog.New(slog.NewTextHandler(&logs, nil)), noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}

	f.Enqueue(context.Background(), notify.Notification{UserID: "bad"})
	f.Enqueue(context.Background(), notify.Notification{UserID: "good"})
	_ = f.Close(context.Background())

	if s := f.Stats(); s.Dispatched != 1 || s.Failed != 1 {
		t.Errorf("Stats = %+v, want 1 dispatched and 1 failed", s)
	}
	if !strings.Contains(logs.String(), "broker down") {
		t.Errorf("expected dispatch error in logs, got %q", logs.String())
	}
}

func TestFanOut_RecoversFromPanic(t *testing.T) {
	calls := 0
	d := notify.DispatcherFunc(func(_ context.Context, n notify.Notification) error {
		calls++
		if n.UserID == "boom" {
			panic("dispatcher exploded")
		}
		return nil
	})
	f := newFanOut(t, d, notify.Options{Workers: 1})

	f.Enqueue(context.Background(), notify.Notification{UserID: "boom"})
	f.Enqueue(context.Background(), notify.Notification{UserID: "after"})
	_ = f.Close(context.Background())

	if calls != 2 {
		t.Errorf("dispatcher called %d times, want 2", calls)
	}
	if s := f.Stats(); s.Failed != 1 || s.Dispatched != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestFanOut_DropsWhenFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d := notify.DispatcherFunc(func(context.Context, notify.Notification) error {
		started <- struct{}{}
		<-release
		return nil
	})
	f := newFanOut(t, d, notify.Options{Workers: 1, QueueSize: 1, Timeout: time.Minute})

	f.Enqueue(context.Background(), notify.Notification{UserID: "1"})
	<-started // the only worker is now busy

	if !f.Enqueue(context.Background(), notify.Notification{UserID: "2"}) {
		t.Fatal("second notification should fit in the queue")
	}
	if f.Enqueue(context.Background(), notify.Notification{UserID: "3"}) {
		t.Fatal("third notification should be dropped")
	}

	close(release)
	_ = f.Close(context.Background())

	if s := f.Stats(); s.Dropped != 1 || s.Dispatched != 2 {
		t.Errorf("Stats = %+v, want 2 dispatched and 1 dropped", s)
	}
}

func TestFanOut_EnqueueAfterCloseDrops(t *testing.T) {
	f := newFanOut(t, &recordingDispatcher{}, notify.Options{})
	_ = f.Close(context.Background())
	_ = f.Close(context.Background())

	if f.Enqueue(context.Background(), notify.Notification{UserID: "late"}) {
		t.Error("Enqueue after Close should report false")
	}
	if f.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", f.Stats().Dropped)
	}
}

func TestFanOut_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := notify.DispatcherFunc(func(context.Context, notify.Notification) error {
		<-release
		return nil
	})
	f := newFanOut(t, d, notify.Options{Workers: 1, Timeout: time.Minute})
	f.Enqueue(context.Background(), notify.Notification{UserID: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close error = %v, want DeadlineExceeded", err)
	}
}

func TestFanOut_DetachesCallerCancellation(t *testing.T) {
	type key struct{}
	var sawErr error
	var sawValue any
	d := notify.DispatcherFunc(func(ctx context.Context, _ notify.Notification) error {
		sawErr = ctx.Err()
		sawValue = ctx.Value(key{})
		return nil
	})
	f := newFanOut(t, d, notify.Options{Workers: 1})

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "req-1"))
	cancel()
	f.Enqueue(ctx, notify.Notification{UserID: "u"})
	_ = f.Close(context.Background())

	if sawErr != nil {
		t.Errorf("dispatch context error = %v, want nil", sawErr)
	}
	if sawValue != "req-1" {
		t.Errorf("dispatch context value = %v, want req-1", sawValue)
	}
}

func TestNotificationConstructors(t *testing.T) {
	amt := decimal.NewFromInt(200)

	o := notify.Outbid("u1", "p1", "b1", amt)
	if o.Kind != notify.KindOutbid || o.UserID != "u1" || o.Metadata["bid_id"] != "b1" {
		t.Errorf("Outbid = %+v", o)
	}
	if !strings.Contains(o.Message, "200.00") {
		t.Errorf("Outbid message = %q", o.Message)
	}

	n := notify.NewBid("seller", "p1", "b1", amt, 3)
	if n.Kind != notify.KindNewBid || n.UserID != "seller" || n.Metadata["bid_count"] != "3" {
		t.Errorf("NewBid = %+v", n)
	}

	w := notify.AuctionWon("u1", "p1", amt)
	if w.Kind != notify.KindAuctionWon || !w.Amount.Equal(amt) {
		t.Errorf("AuctionWon = %+v", w)
	}
	if !strings.Contains(w.Message, "ended") || !strings.Contains(w.Message, "200.00") || strings.Contains(w.Message, "checkout") {
		t.Errorf("AuctionWon message = %q", w.Message)
	}
}
