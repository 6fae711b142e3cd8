package auction_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bidengine/internal/auction"
	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/event"
	"github.com/jensholdgaard/bidengine/internal/notify"
	"github.com/jensholdgaard/bidengine/internal/store"
	"github.com/jensholdgaard/bidengine/internal/store/memory"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

var errInjected = errors.New("injected store failure")

// --- mock helpers ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Enqueue(_ context.Context, msg notify.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return true
}

func (n *recordingNotifier) take() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.sent
	n.sent = nil
	return out
}

func (n *recordingNotifier) to(kind notify.Kind) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var users []string
	for _, msg := range n.sent {
		if msg.Kind == kind {
			users = append(users, msg.UserID)
		}
	}
	return users
}

// faultyAuctions fails selected AuctionRepository calls.
type faultyAuctions struct {
	store.AuctionRepository
	getErr       error
	applyErr     error
	markErr      error
	conflicts    int // SetBidSummary returns ErrVersionConflict this many times
	setSummaries int
}

func (f *faultyAuctions) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.AuctionRepository.GetByID(ctx, id)
}

func (f *faultyAuctions) ApplyBid(ctx context.Context, id string, amount decimal.Decimal, count int) (bool, error) {
	if f.applyErr != nil {
		return false, f.applyErr
	}
	return f.AuctionRepository.ApplyBid(ctx, id, amount, count)
}

func (f *faultyAuctions) MarkInactive(ctx context.Context, id string) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	return f.AuctionRepository.MarkInactive(ctx, id)
}

func (f *faultyAuctions) SetBidSummary(ctx context.Context, id string, version int64, bid decimal.NullDecimal, count int) error {
	f.setSummaries++
	if f.conflicts > 0 {
		f.conflicts--
		return store.ErrVersionConflict
	}
	return f.AuctionRepository.SetBidSummary(ctx, id, version, bid, count)
}

// faultyBids fails selected BidRepository calls.
type faultyBids struct {
	store.BidRepository
	insertErr error
	countErr  error
}

func (f *faultyBids) Insert(ctx context.Context, b *store.Bid) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.BidRepository.Insert(ctx, b)
}

func (f *faultyBids) CountByProduct(ctx context.Context, id string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.BidRepository.CountByProduct(ctx, id)
}

// barrierBids, once armed, holds the next n ListHighest callers until all
// of them have read, so their commits interleave.
type barrierBids struct {
	store.BidRepository
	armed   atomic.Bool
	n       int32
	arrived atomic.Int32
	wg      sync.WaitGroup
}

func (b *barrierBids) arm(n int) {
	b.n = int32(n)
	b.wg.Add(n)
	b.armed.Store(true)
}

func (b *barrierBids) ListHighest(ctx context.Context, productID string) ([]store.Bid, error) {
	bids, err := b.BidRepository.ListHighest(ctx, productID)
	if b.armed.Load() && b.arrived.Add(1) <= b.n {
		b.wg.Done()
		b.wg.Wait()
	}
	return bids, err
}

// hookBids calls onList once, after the first ListByProduct has read the
// ledger but before the caller sees the result.
type hookBids struct {
	store.BidRepository
	fired  atomic.Bool
	onList func()
}

func (h *hookBids) ListByProduct(ctx context.Context, productID string) ([]store.Bid, error) {
	bids, err := h.BidRepository.ListByProduct(ctx, productID)
	if h.onList != nil && h.fired.CompareAndSwap(false, true) {
		h.onList()
	}
	return bids, err
}

// staleAuctions serves a fixed snapshot from GetByID, like a summary that
// missed an update.
type staleAuctions struct {
	store.AuctionRepository
	snapshot *store.Auction
}

func (s *staleAuctions) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	if s.snapshot != nil && s.snapshot.ID == id {
		c := *s.snapshot
		return &c, nil
	}
	return s.AuctionRepository.GetByID(ctx, id)
}

type failingEvents struct{}

func (failingEvents) Append(context.Context, ...event.Event) error { return errInjected }
func (failingEvents) Load(context.Context, string) ([]event.Event, error) {
	return nil, errInjected
}
func (failingEvents) LoadByType(context.Context, event.Type) ([]event.Event, error) {
	return nil, errInjected
}

// --- fixtures ---

type fixture struct {
	engine   *auction.Engine
	repos    *store.Repositories
	backing  *store.Repositories
	notifier *recordingNotifier
	clock    *clock.Step
}

// newFixture builds an Engine over an in-memory store. wrap may replace
// repositories before the engine sees them.
func newFixture(t *testing.T, wrap func(r *store.Repositories), opts ...auction.Option) *fixture {
	t.Helper()
	clk := clock.NewStep(t0, time.Millisecond)
	backing := memory.New(clk).Repositories()
	repos := *backing
	if wrap != nil {
		wrap(&repos)
	}
	n := &recordingNotifier{}
	e, err := auction.NewEngine(&repos, n, slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &fixture{engine: e, repos: &repos, backing: backing, notifier: n, clock: clk}
}

func (f *fixture) publish(t *testing.T, seller string, price int64, end *time.Time) *store.Auction {
	t.Helper()
	a, err := f.engine.PublishAuction(context.Background(), seller, decimal.NewFromInt(price), end)
	if err != nil {
		t.Fatalf("PublishAuction: %v", err)
	}
	return a
}

func (f *fixture) bid(t *testing.T, productID, bidder string, amount int64) string {
	t.Helper()
	id, err := f.engine.PlaceBid(context.Background(), productID, bidder, decimal.NewFromInt(amount))
	if err != nil {
		t.Fatalf("PlaceBid(%s, %d): %v", bidder, amount, err)
	}
	return id
}

func (f *fixture) auction(t *testing.T, id string) *store.Auction {
	t.Helper()
	a, err := f.backing.Auctions.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return a
}

func (f *fixture) highest(t *testing.T, productID string) []store.Bid {
	t.Helper()
	bids, err := f.backing.Bids.ListHighest(context.Background(), productID)
	if err != nil {
		t.Fatalf("ListHighest: %v", err)
	}
	return bids
}

// assertConsistent checks the ledger invariants for productID: exactly one
// highest bid when bids exist, and a summary matching the ledger.
func (f *fixture) assertConsistent(t *testing.T, productID string) {
	t.Helper()
	ctx := context.Background()
	all, _ := f.backing.Bids.ListByProduct(ctx, productID)
	highest := f.highest(t, productID)
	a := f.auction(t, productID)

	if a.BidCount != len(all) {
		t.Errorf("bidCount = %d, ledger has %d bids", a.BidCount, len(all))
	}
	if len(all) == 0 {
		if len(highest) != 0 || a.CurrentBid.Valid {
			t.Errorf("empty ledger but highest=%d currentBid=%v", len(highest), a.CurrentBid)
		}
		return
	}
	if len(highest) != 1 {
		t.Fatalf("%d bids flagged highest, want 1", len(highest))
	}
	if highest[0].ID != all[0].ID {
		t.Errorf("flagged bid %s is not the top-ranked bid %s", highest[0].ID, all[0].ID)
	}
	if !a.CurrentBid.Valid || !a.CurrentBid.Decimal.Equal(highest[0].Amount) {
		t.Errorf("currentBid = %v, highest amount = %s", a.CurrentBid, highest[0].Amount)
	}
}
