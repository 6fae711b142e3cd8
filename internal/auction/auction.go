// Package auction implements the bidding engine: validating bids against
// live auctions, committing accepted bids as the single highest bid,
// expiring auctions, and repairing the ledger after racing commits.
package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidengine/internal/store"
)

// Errors returned by engine operations.
var (
	ErrNotFound     = errors.New("auction not found")
	ErrAuctionEnded = errors.New("auction has ended")
	// ErrAuctionExpired is returned when the end time has passed while the
	// auction was still active. It matches ErrAuctionEnded.
	ErrAuctionExpired = fmt.Errorf("%w: end time passed", ErrAuctionEnded)
	ErrBidTooLow      = errors.New("bid is too low")
	ErrInvalidBid     = errors.New("invalid bid")
	ErrInvalidAuction = errors.New("invalid auction")
	// ErrTransient marks store failures that are safe to retry.
	ErrTransient = errors.New("temporary store failure")
)

// BidTooLowError reports the amount a bid had to beat and the smallest
// amount that would be accepted.
type BidTooLowError struct {
	Baseline decimal.Decimal
	Minimum  decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid is too low: must exceed %s (minimum %s)", e.Baseline, e.Minimum)
}

// Is makes errors.Is(err, ErrBidTooLow) match.
func (e *BidTooLowError) Is(target error) bool { return target == ErrBidTooLow }

// DefaultMinIncrement is the currency step used to report a minimum bid.
var DefaultMinIncrement = decimal.NewFromInt(1)

// Validator checks a candidate bid against auction state. It has no side
// effects; the caller acts on ErrAuctionExpired.
type Validator struct {
	// MinIncrement is added to the baseline when reporting the minimum.
	MinIncrement decimal.Decimal
}

// Validate returns the baseline the amount beats, or ErrAuctionEnded,
// ErrAuctionExpired or a *BidTooLowError.
func (v Validator) Validate(a *store.Auction, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if a.Status != store.StatusActive {
		return decimal.Decimal{}, fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, ErrAuctionEnded)
	}
	if a.EndedAt(now) {
		return decimal.Decimal{}, fmt.Errorf("auction %s ended at %s: %w",
			a.ID, a.AuctionEndTime.Format(time.RFC3339), ErrAuctionExpired)
	}

	baseline := a.Baseline()
	if !amount.GreaterThan(baseline) {
		return decimal.Decimal{}, v.tooLow(baseline)
	}
	return baseline, nil
}

func (v Validator) tooLow(baseline decimal.Decimal) *BidTooLowError {
	inc := v.MinIncrement
	if !inc.IsPositive() {
		inc = DefaultMinIncrement
	}
	return &BidTooLowError{Baseline: baseline, Minimum: baseline.Add(inc)}
}

// CurrencyPlaces is the number of decimal places money is stored with.
const CurrencyPlaces = 2

// WholeCents reports whether d fits CurrencyPlaces without rounding.
// Trailing zeros beyond it are fine.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(CurrencyPlaces))
}
