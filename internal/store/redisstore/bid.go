package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/store"
)

const (
	highestTrue  = "1"
	highestFalse = "0"
)

// BidRepo implements store.BidRepository. Each product keeps a set of its
// bid ids and the latest CreatedAt handed out, in unix microseconds.
type BidRepo struct {
	s *Store
}

func (r *BidRepo) bidKey(id string) string          { return r.s.key("bid", id) }
func (r *BidRepo) productKey(pid string) string     { return r.s.key("product", pid, "bids") }
func (r *BidRepo) lastCreatedKey(pid string) string { return r.s.key("product", pid, "last_created") }

func (r *BidRepo) Insert(ctx context.Context, b *store.Bid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.IsHighest = true

	lastKey := r.lastCreatedKey(b.ProductID)
	key := r.bidKey(b.ID)
	err := r.s.watch(ctx, func(tx *redis.Tx) error {
		var floor time.Time
		last, err := tx.Get(ctx, lastKey).Int64()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			floor = time.UnixMicro(last).UTC()
		}
		b.CreatedAt = clock.NotBefore(r.s.now(), floor)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeBid(b))
			pipe.SAdd(ctx, r.productKey(b.ProductID), b.ID)
			pipe.Set(ctx, lastKey, b.CreatedAt.UnixMicro(), 0)
			return nil
		})
		return err
	}, lastKey)
	if err != nil {
		return fmt.Errorf("inserting bid on %s: %w", b.ProductID, err)
	}
	return nil
}

func (r *BidRepo) ListHighest(ctx context.Context, productID string) ([]store.Bid, error) {
	bids, err := r.load(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("listing highest bids on %s: %w", productID, err)
	}
	return slices.DeleteFunc(bids, func(b store.Bid) bool { return !b.IsHighest }), nil
}

func (r *BidRepo) ListByProduct(ctx context.Context, productID string) ([]store.Bid, error) {
	bids, err := r.load(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("listing bids on %s: %w", productID, err)
	}
	return bids, nil
}

func (r *BidRepo) CountByProduct(ctx context.Context, productID string) (int, error) {
	n, err := r.s.rdb.SCard(ctx, r.productKey(productID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting bids on %s: %w", productID, err)
	}
	return int(n), nil
}

func (r *BidRepo) Demote(ctx context.Context, id string) (bool, error) {
	ok, err := r.s.flip(ctx, r.bidKey(id), "", "is_highest", highestTrue, highestFalse)
	if err != nil {
		return false, fmt.Errorf("demoting bid %s: %w", id, err)
	}
	return ok, nil
}

func (r *BidRepo) Promote(ctx context.Context, id string) (bool, error) {
	ok, err := r.s.flip(ctx, r.bidKey(id), "", "is_highest", highestFalse, highestTrue)
	if err != nil {
		return false, fmt.Errorf("promoting bid %s: %w", id, err)
	}
	return ok, nil
}

// load returns every bid on productID in rank order.
func (r *BidRepo) load(ctx context.Context, productID string) ([]store.Bid, error) {
	ids, err := r.s.rdb.SMembers(ctx, r.productKey(productID)).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.bidKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bids := make([]store.Bid, 0, len(cmds))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		b, err := decodeBid(cmd.Val())
		if err != nil {
			return nil, fmt.Errorf("decoding bid: %w", err)
		}
		bids = append(bids, *b)
	}
	slices.SortFunc(bids, store.CompareBids)
	return bids, nil
}

func encodeBid(b *store.Bid) map[string]any {
	highest := highestFalse
	if b.IsHighest {
		highest = highestTrue
	}
	return map[string]any{
		"id":         b.ID,
		"product_id": b.ProductID,
		"bidder_id":  b.BidderID,
		"amount":     b.Amount.String(),
		"is_highest": highest,
		"created_at": b.CreatedAt.UnixMicro(),
	}
}

func decodeBid(f map[string]string) (*store.Bid, error) {
	amount, err := decimal.NewFromString(f["amount"])
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	micros, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &store.Bid{
		ID:        f["id"],
		ProductID: f["product_id"],
		BidderID:  f["bidder_id"],
		Amount:    amount,
		IsHighest: f["is_highest"] == highestTrue,
		CreatedAt: time.UnixMicro(micros).UTC(),
	}, nil
}
