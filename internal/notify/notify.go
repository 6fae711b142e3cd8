// Package notify delivers outbid, new-bid and auction-won notifications.
// Delivery is best-effort: a failed dispatch is logged and counted, and it
// never reaches the code that produced the notification.
package notify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies a notification type.
type Kind string

const (
	KindOutbid     Kind = "outbid"
	KindNewBid     Kind = "new_bid"
	KindAuctionWon Kind = "auction_won"
)

// Notification is one message for one user.
type Notification struct {
	UserID    string            `json:"user_id"`
	Kind      Kind              `json:"kind"`
	ProductID string            `json:"product_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Dispatcher sends a single notification to its transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, n Notification) error

// Dispatch calls f(ctx, n).
func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error { return f(ctx, n) }

// Outbid tells userID that their leading bid on productID was beaten by amount.
func Outbid(userID, productID, bidID string, amount decimal.Decimal) Notification {
	return Notification{
		UserID:    userID,
		Kind:      KindOutbid,
		ProductID: productID,
		Amount:    amount,
		Title:     "You've been outbid",
		Message:   fmt.Sprintf("Someone placed a higher bid of %s. Bid again to stay in the lead.", amount.StringFixed(2)),
		Metadata:  map[string]string{"product_id": productID, "bid_id": bidID},
	}
}

// NewBid tells the seller that a bid of amount was placed on their auction.
func NewBid(sellerID, productID, bidID string, amount decimal.Decimal, bidCount int) Notification {
	return Notification{
		UserID:    sellerID,
		Kind:      KindNewBid,
		ProductID: productID,
		Amount:    amount,
		Title:     "New bid on your auction",
		Message:   fmt.Sprintf("Your auction received a new bid of %s.", amount.StringFixed(2)),
		Metadata: map[string]string{
			"product_id": productID,
			"bid_id":     bidID,
			"bid_count":  fmt.Sprint(bidCount),
		},
	}
}

// AuctionWon tells the winner that productID closed with their bid of
// amount on top. The engine sends it when it expires an auction that has a
// highest bid.
func AuctionWon(winnerID, productID string, amount decimal.Decimal) Notification {
	return Notification{
		UserID:    winnerID,
		Kind:      KindAuctionWon,
		ProductID: productID,
		Amount:    amount,
		Title:     "You won the auction",
		Message:   fmt.Sprintf("The auction has ended and your bid of %s is the winning bid.", amount.StringFixed(2)),
		Metadata:  map[string]string{"product_id": productID},
	}
}
