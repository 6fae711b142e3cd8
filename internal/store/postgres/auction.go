package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/store"
)

const auctionColumns = `id, seller_id, price, current_bid, bid_count, status,
	auction_end_time, version, created_at, updated_at`

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	now := r.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	if a.Status == "" {
		a.Status = store.StatusActive
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO auctions (id, seller_id, price, current_bid, bid_count, status,
		                       auction_end_time, version, created_at, updated_at)
		 VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id`,
		a.ID, a.SellerID, a.Price, a.CurrentBid, a.BidCount, a.Status,
		a.AuctionEndTime, a.Version, now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting auction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction %s: %w", id, err)
	}
	return &a, nil
}

func (r *AuctionRepo) List(ctx context.Context, statuses ...store.AuctionStatus) ([]store.Auction, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		 ORDER BY created_at ASC`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) MarkInactive(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1, version = version + 1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		store.StatusInactive, r.clock.Now().UTC(), id, store.StatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("marking auction %s inactive: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, r.exists(ctx, id)
	}
	return true, nil
}

func (r *AuctionRepo) ApplyBid(ctx context.Context, id string, amount decimal.Decimal, bidCount int) (bool, error) {
	var raised bool
	err := r.db.QueryRowContext(ctx,
		`WITH prev AS (
		     SELECT id, current_bid FROM auctions WHERE id = $1 FOR UPDATE
		 )
		 UPDATE auctions a SET
		     current_bid = CASE WHEN prev.current_bid IS NULL OR $2::numeric > prev.current_bid
		                        THEN $2::numeric ELSE prev.current_bid END,
		     bid_count   = GREATEST(a.bid_count, $3),
		     version     = a.version + 1,
		     updated_at  = $4
		 FROM prev WHERE a.id = prev.id
		 RETURNING (prev.current_bid IS NULL OR $2::numeric > prev.current_bid)`,
		id, amount, bidCount, r.clock.Now().UTC(),
	).Scan(&raised)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("applying bid to auction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("applying bid to auction %s: %w", id, err)
	}
	return raised, nil
}

func (r *AuctionRepo) SetBidSummary(ctx context.Context, id string, expectedVersion int64, currentBid decimal.NullDecimal, bidCount int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET current_bid = $1, bid_count = $2, version = version + 1, updated_at = $3
		 WHERE id = $4 AND version = $5`,
		currentBid, bidCount, r.clock.Now().UTC(), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("setting bid summary on auction %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if err := r.exists(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("auction %s moved past version %d: %w", id, expectedVersion, store.ErrVersionConflict)
	}
	return nil
}

// exists returns store.ErrNotFound when no auction has the given id.
func (r *AuctionRepo) exists(ctx context.Context, id string) error {
	var found bool
	if err := r.db.GetContext(ctx, &found, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("checking auction %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	return nil
}
