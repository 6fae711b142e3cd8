package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidengine/internal/store"
)

type publishAuctionRequest struct {
	SellerID       string          `json:"seller_id"`
	Price          decimal.Decimal `json:"price"`
	AuctionEndTime *time.Time      `json:"auction_end_time"`
}

type placeBidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type placeBidResponse struct {
	BidID     string          `json:"bid_id"`
	ProductID string          `json:"product_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type auctionResponse struct {
	ID             string           `json:"id"`
	SellerID       string           `json:"seller_id"`
	Price          decimal.Decimal  `json:"price"`
	CurrentBid     *decimal.Decimal `json:"current_bid,omitempty"`
	BidCount       int              `json:"bid_count"`
	Status         string           `json:"status"`
	AuctionEndTime *time.Time       `json:"auction_end_time,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

func toAuctionResponse(a *store.Auction) auctionResponse {
	resp := auctionResponse{
		ID:             a.ID,
		SellerID:       a.SellerID,
		Price:          a.Price,
		BidCount:       a.BidCount,
		Status:         string(a.Status),
		AuctionEndTime: a.AuctionEndTime,
		CreatedAt:      a.CreatedAt,
	}
	if a.CurrentBid.Valid {
		cur := a.CurrentBid.Decimal
		resp.CurrentBid = &cur
	}
	return resp
}

type bidResponse struct {
	ID        string          `json:"id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsHighest bool            `json:"is_highest"`
	CreatedAt time.Time       `json:"created_at"`
}

type bidHistoryResponse struct {
	ProductID string        `json:"product_id"`
	Bids      []bidResponse `json:"bids"`
}

func toBidHistory(productID string, bids []store.Bid) bidHistoryResponse {
	resp := bidHistoryResponse{ProductID: productID, Bids: make([]bidResponse, 0, len(bids))}
	for _, b := range bids {
		resp.Bids = append(resp.Bids, bidResponse{
			ID:        b.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			IsHighest: b.IsHighest,
			CreatedAt: b.CreatedAt,
		})
	}
	return resp
}

type errorResponse struct {
	Error   string           `json:"error"`
	Minimum *decimal.Decimal `json:"minimum,omitempty"`
	Current *decimal.Decimal `json:"current,omitempty"`
}
