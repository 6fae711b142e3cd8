// Package event defines the append-only audit trail written by the bidding
// engine. Audit writes are best-effort and never decide a bid outcome.
package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	AuctionPublished Type = "auction.published"
	AuctionExpired   Type = "auction.expired"

	BidPlaced   Type = "bid.placed"
	BidDemoted  Type = "bid.demoted"
	BidRepaired Type = "bid.repaired"
)

// Event represents a single audit record. AggregateID is the auction id.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event with data marshalled to JSON.
func New(aggregateID string, t Type, data any, at time.Time) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        raw,
		CreatedAt:   at,
	}
}

// AuctionPublishedData is the payload for AuctionPublished events.
type AuctionPublishedData struct {
	SellerID       string          `json:"seller_id"`
	Price          decimal.Decimal `json:"price"`
	AuctionEndTime *time.Time      `json:"auction_end_time,omitempty"`
}

// AuctionExpiredData is the payload for AuctionExpired events.
type AuctionExpiredData struct {
	// Source is "validator" or "sweep".
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	BidID    string          `json:"bid_id"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Baseline decimal.Decimal `json:"baseline"`
}

// BidDemotedData is the payload for BidDemoted events.
type BidDemotedData struct {
	BidID        string `json:"bid_id"`
	BidderID     string `json:"bidder_id"`
	SupersededBy string `json:"superseded_by,omitempty"`
}

// BidRepairedData is the payload for BidRepaired events written by
// reconciliation.
type BidRepairedData struct {
	WinnerID string          `json:"winner_id"`
	Amount   decimal.Decimal `json:"amount"`
	Demoted  []string        `json:"demoted,omitempty"`
	Promoted bool            `json:"promoted"`
	BidCount int             `json:"bid_count"`
}
