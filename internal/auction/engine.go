package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/event"
	"github.com/jensholdgaard/bidengine/internal/notify"
	"github.com/jensholdgaard/bidengine/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/bidengine/internal/auction"

// Notifier queues a notification for asynchronous delivery. It must not
// block and its result never affects a bid.
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification) bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinIncrement sets the currency step used to report a minimum bid.
func WithMinIncrement(inc decimal.Decimal) Option {
	return func(e *Engine) { e.validator.MinIncrement = inc }
}

// Engine places bids and publishes, expires and repairs auctions.
type Engine struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	events   event.Store
	notifier Notifier

	validator  Validator
	sweeper    *Sweeper
	reconciler *Reconciler

	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	accepted metric.Int64Counter
	rejected metric.Int64Counter
}

// NewEngine creates an Engine over repos. notifier may be nil, in which case
// no notifications are sent.
func NewEngine(repos *store.Repositories, notifier Notifier, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock, opts ...Option) (*Engine, error) {
	meter := mp.Meter(instrumentationName)
	accepted, err := meter.Int64Counter("bidengine.bids.accepted",
		metric.WithDescription("Bids committed to the ledger."))
	if err != nil {
		return nil, fmt.Errorf("creating accepted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("bidengine.bids.rejected",
		metric.WithDescription("Bids refused, by reason."))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	reconciler, err := NewReconciler(repos, logger, tp, mp)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		auctions:   repos.Auctions,
		bids:       repos.Bids,
		events:     repos.Events,
		notifier:   notifier,
		validator:  Validator{MinIncrement: DefaultMinIncrement},
		sweeper:    NewSweeper(repos, notifier, logger, tp),
		reconciler: reconciler,
		logger:     logger,
		tracer:     tp.Tracer(instrumentationName),
		clock:      clk,
		accepted:   accepted,
		rejected:   rejected,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// PublishAuction creates an active auction with no bids. endTime may be nil
// for an auction that only ends by status change.
func (e *Engine) PublishAuction(ctx context.Context, sellerID string, price decimal.Decimal, endTime *time.Time) (*store.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PublishAuction",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("price", price.String()),
		),
	)
	defer span.End()

	now := e.clock.Now()
	switch {
	case sellerID == "":
		return nil, fmt.Errorf("%w: seller id is required", ErrInvalidAuction)
	case price.IsNegative():
		return nil, fmt.Errorf("%w: price %s is negative", ErrInvalidAuction, price)
	case !WholeCents(price):
		return nil, fmt.Errorf("%w: price %s has more than %d decimal places", ErrInvalidAuction, price, CurrencyPlaces)
	case endTime != nil && !endTime.After(now):
		return nil, fmt.Errorf("%w: end time %s is not in the future", ErrInvalidAuction, endTime.Format(time.RFC3339))
	}

	a := &store.Auction{
		SellerID:       sellerID,
		Price:          price,
		Status:         store.StatusActive,
		AuctionEndTime: endTime,
	}
	if err := e.auctions.Create(ctx, a); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: creating auction: %w", ErrTransient, err)
	}
	span.SetAttributes(attribute.String("auction_id", a.ID))

	e.audit(ctx, event.New(a.ID, event.AuctionPublished, event.AuctionPublishedData{
		SellerID:       sellerID,
		Price:          price,
		AuctionEndTime: endTime,
	}, now))

	e.logger.InfoContext(ctx, "auction published",
		slog.String("auction_id", a.ID),
		slog.String("seller_id", sellerID),
		slog.String("price", price.String()),
	)
	return a, nil
}

// GetAuction returns the auction with id.
func (e *Engine) GetAuction(ctx context.Context, id string) (*store.Auction, error) {
	a, err := e.auctions.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading auction: %w", ErrTransient, err)
	}
	return a, nil
}

// GetBidHistory returns every bid on productID, highest amount first and
// earliest first among equal amounts.
func (e *Engine) GetBidHistory(ctx context.Context, productID string) ([]store.Bid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetBidHistory",
		trace.WithAttributes(attribute.String("auction_id", productID)),
	)
	defer span.End()

	if _, err := e.GetAuction(ctx, productID); err != nil {
		return nil, err
	}
	bids, err := e.bids.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing bids: %w", ErrTransient, err)
	}
	return bids, nil
}

// SweepExpiredAuctions marks active auctions whose end time is at or
// before now as inactive and returns how many it changed.
func (e *Engine) SweepExpiredAuctions(ctx context.Context, now time.Time) (int, error) {
	return e.sweeper.Sweep(ctx, now)
}

// Reconcile repairs the bid ledger and cached summary of every auction.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	return e.reconciler.Reconcile(ctx)
}

// PlaceBid commits amount from bidderID on productID as the new highest bid
// and returns the bid id.
//
// Errors before the bid is stored are returned: ErrInvalidBid, ErrNotFound,
// ErrAuctionEnded, a *BidTooLowError or ErrTransient. Once stored, the bid
// stands: summary update failures are repaired by reconciliation and
// notification failures are only logged.
func (e *Engine) PlaceBid(ctx context.Context, productID, bidderID string, amount decimal.Decimal) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", productID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	bidID, err := e.placeBid(ctx, productID, bidderID, amount)
	if err != nil {
		reason := rejectReason(err)
		span.SetStatus(codes.Error, reason)
		e.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		e.logger.InfoContext(ctx, "bid rejected",
			slog.String("auction_id", productID),
			slog.String("bidder_id", bidderID),
			slog.String("amount", amount.String()),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return "", err
	}

	span.SetAttributes(attribute.String("bid_id", bidID))
	e.accepted.Add(ctx, 1)
	return bidID, nil
}

func (e *Engine) placeBid(ctx context.Context, productID, bidderID string, amount decimal.Decimal) (string, error) {
	if productID == "" || bidderID == "" {
		return "", fmt.Errorf("%w: auction and bidder ids are required", ErrInvalidBid)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount %s must be positive", ErrInvalidBid, amount)
	}
	if !WholeCents(amount) {
		return "", fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidBid, amount, CurrencyPlaces)
	}

	a, err := e.GetAuction(ctx, productID)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	baseline, err := e.validator.Validate(a, amount, now)
	if errors.Is(err, ErrAuctionExpired) {
		e.expire(ctx, a, "validator", now)
		return "", err
	}
	if err != nil {
		return "", err
	}

	prior, err := e.bids.ListHighest(ctx, productID)
	if err != nil {
		return "", fmt.Errorf("%w: listing highest bids: %w", ErrTransient, err)
	}

	// The summary can lag the ledger after a failed update. A flagged bid
	// this amount does not beat still leads, so nothing may be written.
	if top, ok := highestAmount(prior); ok && !amount.GreaterThan(top) {
		return "", e.validator.tooLow(top)
	}

	// Demote before inserting so a concurrent reader never sees this bid
	// next to the one it supersedes.
	var demoted []store.Bid
	for _, p := range prior {
		flipped, err := e.bids.Demote(ctx, p.ID)
		if err != nil {
			e.repair(ctx, productID, "demotion failed")
			return "", fmt.Errorf("%w: demoting bid %s: %w", ErrTransient, p.ID, err)
		}
		if flipped {
			demoted = append(demoted, p)
		}
	}

	bid := &store.Bid{ProductID: productID, BidderID: bidderID, Amount: amount}
	if err := e.bids.Insert(ctx, bid); err != nil {
		e.repair(ctx, productID, "insert failed")
		return "", fmt.Errorf("%w: inserting bid: %w", ErrTransient, err)
	}

	// The bid is committed from here on.
	race := len(prior) > 1
	count, err := e.bids.CountByProduct(ctx, productID)
	if err != nil {
		e.logger.WarnContext(ctx, "counting bids failed",
			slog.String("auction_id", productID),
			slog.Any("error", err),
		)
		count = a.BidCount + 1
		race = true
	}
	raised, err := e.auctions.ApplyBid(ctx, productID, amount, count)
	switch {
	case err != nil:
		e.logger.WarnContext(ctx, "updating auction summary failed",
			slog.String("auction_id", productID),
			slog.Any("error", err),
		)
		race = true
	case !raised:
		race = true
	}
	if !race {
		flagged, err := e.bids.ListHighest(ctx, productID)
		race = err != nil || len(flagged) != 1
	}
	if race {
		e.repair(ctx, productID, "concurrent commit detected")
	}

	e.recordPlaced(ctx, bid, baseline, demoted, now)
	e.notifyPlaced(ctx, a, bid, demoted, count)

	e.logger.InfoContext(ctx, "bid placed",
		slog.String("auction_id", productID),
		slog.String("bid_id", bid.ID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.String()),
		slog.Int("demoted", len(demoted)),
	)
	return bid.ID, nil
}

func highestAmount(bids []store.Bid) (decimal.Decimal, bool) {
	if len(bids) == 0 {
		return decimal.Decimal{}, false
	}
	top := bids[0].Amount
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(top) {
			top = b.Amount
		}
	}
	return top, true
}

// notifyPlaced tells each distinct bidder whose lead this commit took away,
// other than the new bidder, and the seller.
func (e *Engine) notifyPlaced(ctx context.Context, a *store.Auction, bid *store.Bid, demoted []store.Bid, count int) {
	if e.notifier == nil {
		return
	}
	told := make(map[string]bool, len(demoted))
	for _, d := range demoted {
		if d.BidderID == bid.BidderID || told[d.BidderID] {
			continue
		}
		told[d.BidderID] = true
		e.notifier.Enqueue(ctx, notify.Outbid(d.BidderID, a.ID, bid.ID, bid.Amount))
	}
	if a.SellerID != "" && a.SellerID != bid.BidderID {
		e.notifier.Enqueue(ctx, notify.NewBid(a.SellerID, a.ID, bid.ID, bid.Amount, count))
	}
}

func (e *Engine) recordPlaced(ctx context.Context, bid *store.Bid, baseline decimal.Decimal, demoted []store.Bid, at time.Time) {
	events := make([]event.Event, 0, len(demoted)+1)
	for _, d := range demoted {
		events = append(events, event.New(bid.ProductID, event.BidDemoted, event.BidDemotedData{
			BidID:        d.ID,
			BidderID:     d.BidderID,
			SupersededBy: bid.ID,
		}, at))
	}
	events = append(events, event.New(bid.ProductID, event.BidPlaced, event.BidPlacedData{
		BidID:    bid.ID,
		BidderID: bid.BidderID,
		Amount:   bid.Amount,
		Baseline: baseline,
	}, at))
	e.audit(ctx, events...)
}

// expire moves an auction found past its end time to inactive.
func (e *Engine) expire(ctx context.Context, a *store.Auction, source string, now time.Time) {
	id := a.ID
	flipped, err := e.auctions.MarkInactive(ctx, id)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to mark expired auction inactive",
			slog.String("auction_id", id),
			slog.Any("error", err),
		)
		return
	}
	if flipped {
		e.audit(ctx, event.New(id, event.AuctionExpired, event.AuctionExpiredData{Source: source, At: now}, now))
		e.logger.InfoContext(ctx, "auction expired",
			slog.String("auction_id", id),
			slog.String("source", source),
		)
		e.sweeper.notifyWinner(ctx, a)
	}
}

// repair runs reconciliation for one product and only logs failures.
func (e *Engine) repair(ctx context.Context, productID, reason string) {
	if _, err := e.reconciler.ReconcileProduct(ctx, productID); err != nil {
		e.logger.ErrorContext(ctx, "inline reconciliation failed",
			slog.String("auction_id", productID),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) audit(ctx context.Context, events ...event.Event) {
	if e.events == nil || len(events) == 0 {
		return
	}
	if err := e.events.Append(ctx, events...); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist audit events",
			slog.String("auction_id", events[0].AggregateID),
			slog.Any("error", err),
		)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidBid):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuctionEnded):
		return "ended"
	case errors.Is(err, ErrBidTooLow):
		return "too_low"
	}
	return "transient"
}
