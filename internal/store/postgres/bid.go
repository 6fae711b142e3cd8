package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/store"
)

const bidColumns = `id, product_id, bidder_id, amount, is_highest, created_at`

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB, clk clock.Clock) *BidRepo {
	return &BidRepo{db: db, clock: clk}
}

// Insert stores b flagged highest. created_at is clamped to the latest bid
// on the product so timestamps never decrease.
func (r *BidRepo) Insert(ctx context.Context, b *store.Bid) error {
	b.IsHighest = true
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO bids (id, product_id, bidder_id, amount, is_highest, created_at)
		 SELECT COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, TRUE,
		        GREATEST($5::timestamptz, COALESCE(MAX(created_at), $5::timestamptz))
		 FROM bids WHERE product_id = $2
		 RETURNING id, created_at`,
		b.ID, b.ProductID, b.BidderID, b.Amount, r.clock.Now().UTC(),
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting bid on %s: %w", b.ProductID, err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return nil
}

func (r *BidRepo) ListHighest(ctx context.Context, productID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE product_id = $1 AND is_highest
		 ORDER BY amount DESC, created_at ASC, id ASC`, productID)
	if err != nil {
		return nil, fmt.Errorf("listing highest bids on %s: %w", productID, err)
	}
	return bids, nil
}

func (r *BidRepo) ListByProduct(ctx context.Context, productID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE product_id = $1
		 ORDER BY amount DESC, created_at ASC, id ASC`, productID)
	if err != nil {
		return nil, fmt.Errorf("listing bids on %s: %w", productID, err)
	}
	return bids, nil
}

func (r *BidRepo) CountByProduct(ctx context.Context, productID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM bids WHERE product_id = $1`, productID); err != nil {
		return 0, fmt.Errorf("counting bids on %s: %w", productID, err)
	}
	return n, nil
}

func (r *BidRepo) Demote(ctx context.Context, id string) (bool, error) {
	return r.flip(ctx, id, true, false)
}

func (r *BidRepo) Promote(ctx context.Context, id string) (bool, error) {
	return r.flip(ctx, id, false, true)
}

func (r *BidRepo) flip(ctx context.Context, id string, from, to bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE bids SET is_highest = $1 WHERE id = $2 AND is_highest = $3`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("updating bid %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return true, nil
	}

	var found bool
	if err := r.db.GetContext(ctx, &found, `SELECT EXISTS (SELECT 1 FROM bids WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("checking bid %s: %w", id, err)
	}
	if !found {
		return false, fmt.Errorf("updating bid %s: %w", id, store.ErrNotFound)
	}
	return false, nil
}
