// Package store defines the auction data model and the repository ports the
// bidding engine needs from a document store: get by id, conditional
// update, insert and query by field.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors returned by repository implementations.
var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusActive          AuctionStatus = "active"
	StatusInactive        AuctionStatus = "inactive"
	StatusPendingDelivery AuctionStatus = "pending_delivery"
	StatusSold            AuctionStatus = "sold"
)

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPendingDelivery, StatusSold:
		return true
	}
	return false
}

// Auction is the record for one listing priced by competitive bidding.
type Auction struct {
	ID             string              `db:"id"`
	SellerID       string              `db:"seller_id"`
	Price          decimal.Decimal     `db:"price"`
	CurrentBid     decimal.NullDecimal `db:"current_bid"`
	BidCount       int                 `db:"bid_count"`
	Status         AuctionStatus       `db:"status"`
	AuctionEndTime *time.Time          `db:"auction_end_time"`
	Version        int64               `db:"version"`
	CreatedAt      time.Time           `db:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

// Baseline returns the amount a new bid must exceed: the current bid, or
// the list price when no bid exists yet, whichever is larger.
func (a *Auction) Baseline() decimal.Decimal {
	if a.CurrentBid.Valid && a.CurrentBid.Decimal.GreaterThan(a.Price) {
		return a.CurrentBid.Decimal
	}
	return a.Price
}

// EndedAt reports whether the auction end time is set and not after now.
func (a *Auction) EndedAt(now time.Time) bool {
	return a.AuctionEndTime != nil && !now.Before(*a.AuctionEndTime)
}

// Bid is one accepted offer in the bid ledger. Only IsHighest ever changes
// after insertion.
type Bid struct {
	ID        string          `db:"id"`
	ProductID string          `db:"product_id"`
	BidderID  string          `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`
	IsHighest bool            `db:"is_highest"`
	CreatedAt time.Time       `db:"created_at"`
}

// RanksBefore reports whether b outranks o: higher amount first, then the
// earlier CreatedAt, then the smaller ID so the order is total.
func (b Bid) RanksBefore(o Bid) bool {
	if c := b.Amount.Cmp(o.Amount); c != 0 {
		return c > 0
	}
	if !b.CreatedAt.Equal(o.CreatedAt) {
		return b.CreatedAt.Before(o.CreatedAt)
	}
	return b.ID < o.ID
}

// CompareBids is a comparison function for slices.SortFunc that orders
// bids by rank.
func CompareBids(a, b Bid) int {
	switch {
	case a.RanksBefore(b):
		return -1
	case b.RanksBefore(a):
		return 1
	}
	return 0
}

// AuctionRepository defines auction persistence operations. Every mutating
// method is a single-document conditional write.
type AuctionRepository interface {
	// Create inserts a new auction. An empty ID is assigned by the store.
	Create(ctx context.Context, a *Auction) error
	// GetByID returns ErrNotFound when the auction does not exist.
	GetByID(ctx context.Context, id string) (*Auction, error)
	// List returns auctions in any of the given statuses, or all auctions
	// when none are given.
	List(ctx context.Context, statuses ...AuctionStatus) ([]Auction, error)
	// MarkInactive flips status active -> inactive. It reports false when
	// the auction was not active.
	MarkInactive(ctx context.Context, id string) (bool, error)
	// ApplyBid records an accepted bid on the cached summary. currentBid is
	// raised to amount only when amount is greater than the stored value;
	// bidCount becomes max(stored, bidCount). It reports whether currentBid
	// was raised.
	ApplyBid(ctx context.Context, id string, amount decimal.Decimal, bidCount int) (bool, error)
	// SetBidSummary overwrites currentBid and bidCount if the stored version
	// still equals expectedVersion, and returns ErrVersionConflict otherwise.
	SetBidSummary(ctx context.Context, id string, expectedVersion int64, currentBid decimal.NullDecimal, bidCount int) error
}

// BidRepository defines bid ledger operations.
type BidRepository interface {
	// Insert appends b as the highest bid. The store assigns ID when empty
	// and sets CreatedAt so it never precedes an earlier bid on the product.
	Insert(ctx context.Context, b *Bid) error
	// ListHighest returns the bids on productID currently flagged highest.
	ListHighest(ctx context.Context, productID string) ([]Bid, error)
	// ListByProduct returns all bids on productID in rank order.
	ListByProduct(ctx context.Context, productID string) ([]Bid, error)
	// CountByProduct returns the number of bids on productID.
	CountByProduct(ctx context.Context, productID string) (int, error)
	// Demote flips IsHighest true -> false and reports whether it did.
	Demote(ctx context.Context, id string) (bool, error)
	// Promote flips IsHighest false -> true and reports whether it did. Only
	// reconciliation calls it, to repair a demotion whose insert never landed.
	Promote(ctx context.Context, id string) (bool, error)
}
