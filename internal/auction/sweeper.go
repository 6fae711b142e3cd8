package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidengine/internal/event"
	"github.com/jensholdgaard/bidengine/internal/notify"
	"github.com/jensholdgaard/bidengine/internal/store"
)

// Sweeper marks active auctions past their end time as inactive. PlaceBid
// enforces the end time on its own; the sweep only tidies status for
// auctions nobody bids on.
//
// When an expired auction has a highest bid, its bidder is sent an
// auction_won notification.
type Sweeper struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	events   event.Store
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewSweeper returns a Sweeper over repos. notifier may be nil.
func NewSweeper(repos *store.Repositories, notifier Notifier, logger *slog.Logger, tp trace.TracerProvider) *Sweeper {
	return &Sweeper{
		auctions: repos.Auctions,
		bids:     repos.Bids,
		events:   repos.Events,
		notifier: notifier,
		logger:   logger,
		tracer:   tp.Tracer(instrumentationName),
	}
}

// Sweep transitions every active auction whose end time is at or before
// now and returns the number it changed. Auctions already moved by a
// concurrent bid or sweep are not counted, so a second call with the same
// now returns zero.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Sweeper.Sweep")
	defer span.End()

	active, err := s.auctions.List(ctx, store.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("%w: listing active auctions: %w", ErrTransient, err)
	}

	var (
		count int
		errs  []error
	)
	for _, a := range active {
		if !a.EndedAt(now) {
			continue
		}
		flipped, err := s.auctions.MarkInactive(ctx, a.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("expiring auction %s: %w", a.ID, err))
			continue
		}
		if !flipped {
			continue
		}
		count++
		if s.events != nil {
			ev := event.New(a.ID, event.AuctionExpired, event.AuctionExpiredData{Source: "sweep", At: now}, now)
			if err := s.events.Append(ctx, ev); err != nil {
				s.logger.ErrorContext(ctx, "failed to persist expiry event",
					slog.String("auction_id", a.ID),
					slog.Any("error", err),
				)
			}
		}
		s.notifyWinner(ctx, &a)
	}

	span.SetAttributes(attribute.Int("expired", count))
	if count > 0 {
		s.logger.InfoContext(ctx, "expired auctions swept",
			slog.Int("expired", count),
			slog.Int("scanned", len(active)),
		)
	}
	return count, errors.Join(errs...)
}

func (s *Sweeper) notifyWinner(ctx context.Context, a *store.Auction) {
	if s.notifier == nil || s.bids == nil || !a.CurrentBid.Valid {
		return
	}
	highest, err := s.bids.ListHighest(ctx, a.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "could not resolve auction winner",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
		return
	}
	if len(highest) == 0 {
		return
	}
	// ListHighest is rank ordered; after a race only the first one counts.
	w := highest[0]
	s.notifier.Enqueue(ctx, notify.AuctionWon(w.BidderID, a.ID, w.Amount))
}
