package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidengine/internal/event"
	"github.com/jensholdgaard/bidengine/internal/store"
)

// maxReconcileAttempts bounds retries when the auction changes between
// reading the ledger and writing the summary.
const maxReconcileAttempts = 3

// ProductResult describes what reconciliation changed for one auction.
type ProductResult struct {
	// Winner is the id of the top-ranked bid, empty when there are none.
	Winner string
	// Amount and BidCount are the summary the ledger implies.
	Amount   decimal.Decimal
	BidCount int
	Demoted  []string
	Promoted bool
	// SummaryFixed is set when currentBid or bidCount was rewritten.
	SummaryFixed bool
}

// Changed reports whether anything was repaired.
func (r ProductResult) Changed() bool {
	return len(r.Demoted) > 0 || r.Promoted || r.SummaryFixed
}

// Report summarizes a full reconciliation pass.
type Report struct {
	Auctions int `json:"auctions"`
	Repaired int `json:"repaired"`
	Demoted  int `json:"demoted"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// Reconciler restores the single-highest-bid invariant. For each auction
// it ranks all bids, leaves only the top one flagged, and rewrites the
// cached currentBid and bidCount from the ledger.
type Reconciler struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	events   event.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	repairs  metric.Int64Counter
}

// NewReconciler returns a Reconciler over repos.
func NewReconciler(repos *store.Repositories, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Reconciler, error) {
	repairs, err := mp.Meter(instrumentationName).Int64Counter("bidengine.reconcile.repairs",
		metric.WithDescription("Auctions whose bid ledger or summary was repaired."))
	if err != nil {
		return nil, fmt.Errorf("creating repairs counter: %w", err)
	}
	return &Reconciler{
		auctions: repos.Auctions,
		bids:     repos.Bids,
		events:   repos.Events,
		logger:   logger,
		tracer:   tp.Tracer(instrumentationName),
		repairs:  repairs,
	}, nil
}

// Reconcile runs ReconcileProduct for every auction. A failure on one
// auction does not stop the pass; all failures are joined in the error.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	ctx, span := r.tracer.Start(ctx, "Reconciler.Reconcile")
	defer span.End()

	auctions, err := r.auctions.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: listing auctions: %w", ErrTransient, err)
	}

	var report Report
	var errs []error
	for _, a := range auctions {
		report.Auctions++
		res, err := r.ReconcileProduct(ctx, a.ID)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}
		if res.Changed() {
			report.Repaired++
			report.Demoted += len(res.Demoted)
			if res.Promoted {
				report.Promoted++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("auctions", report.Auctions),
		attribute.Int("repaired", report.Repaired),
	)
	if report.Repaired > 0 || report.Failed > 0 {
		r.logger.InfoContext(ctx, "reconciliation pass complete",
			slog.Int("auctions", report.Auctions),
			slog.Int("repaired", report.Repaired),
			slog.Int("failed", report.Failed),
		)
	}
	return report, errors.Join(errs...)
}

// ReconcileProduct repairs one auction. It is safe to run concurrently
// with PlaceBid: flag changes are conditional and the summary is written
// with a version check, retrying from a fresh read on conflict.
func (r *Reconciler) ReconcileProduct(ctx context.Context, productID string) (ProductResult, error) {
	ctx, span := r.tracer.Start(ctx, "Reconciler.ReconcileProduct",
		trace.WithAttributes(attribute.String("auction_id", productID)),
	)
	defer span.End()

	var res ProductResult
	for attempt := 1; ; attempt++ {
		done, err := r.reconcileOnce(ctx, productID, &res)
		if err != nil {
			return res, fmt.Errorf("reconciling auction %s: %w", productID, err)
		}
		if done {
			break
		}
		if attempt == maxReconcileAttempts {
			return res, fmt.Errorf("reconciling auction %s: %w", productID, store.ErrVersionConflict)
		}
	}

	if res.Changed() {
		r.repairs.Add(ctx, 1)
		r.record(ctx, productID, res)
	}
	return res, nil
}

// reconcileOnce performs one read-repair-write cycle. It returns false when
// a commit raced the cycle and it should be retried.
//
// The auction is read before the ledger. Every commit bumps the auction
// version after inserting its bid, so a version that still matches after the
// listing proves the listing was not stale.
func (r *Reconciler) reconcileOnce(ctx context.Context, productID string, res *ProductResult) (bool, error) {
	a, err := r.auctions.GetByID(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("reading auction: %w", err)
	}

	bids, err := r.bids.ListByProduct(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("listing bids: %w", err)
	}

	want := decimal.NullDecimal{}
	res.Winner, res.Amount, res.BidCount = "", decimal.Decimal{}, len(bids)
	if len(bids) > 0 {
		winner := bids[0]
		res.Winner = winner.ID
		res.Amount = winner.Amount
		want = decimal.NewNullDecimal(winner.Amount)

		for _, b := range bids[1:] {
			if !b.IsHighest {
				continue
			}
			flipped, err := r.bids.Demote(ctx, b.ID)
			if err != nil {
				return false, fmt.Errorf("demoting bid %s: %w", b.ID, err)
			}
			if flipped {
				res.Demoted = append(res.Demoted, b.ID)
			}
		}
		if !winner.IsHighest {
			flipped, err := r.bids.Promote(ctx, winner.ID)
			if err != nil {
				return false, fmt.Errorf("promoting bid %s: %w", winner.ID, err)
			}
			res.Promoted = res.Promoted || flipped
		}
	}

	if summaryMatches(a, want, len(bids)) {
		// Nothing to write, but the flag repair only stands if no commit
		// landed since the first read.
		cur, err := r.auctions.GetByID(ctx, productID)
		if err != nil {
			return false, fmt.Errorf("re-reading auction: %w", err)
		}
		return cur.Version == a.Version, nil
	}

	err = r.auctions.SetBidSummary(ctx, productID, a.Version, want, len(bids))
	if errors.Is(err, store.ErrVersionConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("writing bid summary: %w", err)
	}
	res.SummaryFixed = true
	return true, nil
}

func summaryMatches(a *store.Auction, want decimal.NullDecimal, count int) bool {
	if a.BidCount != count || a.CurrentBid.Valid != want.Valid {
		return false
	}
	return !want.Valid || a.CurrentBid.Decimal.Equal(want.Decimal)
}

func (r *Reconciler) record(ctx context.Context, productID string, res ProductResult) {
	r.logger.WarnContext(ctx, "repaired bid ledger",
		slog.String("auction_id", productID),
		slog.String("winner_bid_id", res.Winner),
		slog.Int("demoted", len(res.Demoted)),
		slog.Bool("promoted", res.Promoted),
		slog.Bool("summary_fixed", res.SummaryFixed),
	)
	if r.events == nil {
		return
	}

	// A zero timestamp lets the event store assign one.
	ev := event.New(productID, event.BidRepaired, event.BidRepairedData{
		WinnerID: res.Winner,
		Amount:   res.Amount,
		Demoted:  res.Demoted,
		Promoted: res.Promoted,
		BidCount: res.BidCount,
	}, time.Time{})
	if err := r.events.Append(ctx, ev); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist repair event",
			slog.String("auction_id", productID),
			slog.Any("error", err),
		)
	}
}
