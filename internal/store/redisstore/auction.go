package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidengine/internal/store"
)

// AuctionRepo implements store.AuctionRepository on redis hashes. The
// auctions sorted set indexes ids by creation time.
type AuctionRepo struct {
	s *Store
}

func (r *AuctionRepo) auctionKey(id string) string { return r.s.key("auction", id) }
func (r *AuctionRepo) indexKey() string            { return r.s.key("auctions") }

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	if a.Status == "" {
		a.Status = store.StatusActive
	}

	key := r.auctionKey(a.ID)
	err := r.s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("auction %s already exists", a.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAuction(a))
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(now.UnixMicro()), Member: a.ID})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	fields, err := r.s.rdb.HGetAll(ctx, r.auctionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting auction %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("getting auction %s: %w", id, store.ErrNotFound)
	}
	a, err := decodeAuction(fields)
	if err != nil {
		return nil, fmt.Errorf("decoding auction %s: %w", id, err)
	}
	return a, nil
}

func (r *AuctionRepo) List(ctx context.Context, statuses ...store.AuctionStatus) ([]store.Auction, error) {
	ids, err := r.s.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.auctionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading auctions: %w", err)
	}

	want := make(map[store.AuctionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []store.Auction
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		a, err := decodeAuction(fields)
		if err != nil {
			return nil, fmt.Errorf("decoding auction: %w", err)
		}
		if len(want) > 0 && !want[a.Status] {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *AuctionRepo) MarkInactive(ctx context.Context, id string) (bool, error) {
	ok, err := r.s.flip(ctx, r.auctionKey(id), "version", "status",
		string(store.StatusActive), string(store.StatusInactive),
		"updated_at", formatTime(r.s.now()))
	if err != nil {
		return false, fmt.Errorf("marking auction %s inactive: %w", id, err)
	}
	return ok, nil
}

func (r *AuctionRepo) ApplyBid(ctx context.Context, id string, amount decimal.Decimal, bidCount int) (bool, error) {
	var raised bool
	key := r.auctionKey(id)
	err := r.s.watch(ctx, func(tx *redis.Tx) error {
		a, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		raised = !a.CurrentBid.Valid || amount.GreaterThan(a.CurrentBid.Decimal)
		fields := []any{
			"bid_count", max(a.BidCount, bidCount),
			"updated_at", formatTime(r.s.now()),
		}
		if raised {
			fields = append(fields, "current_bid", amount.String())
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields...)
			pipe.HIncrBy(ctx, key, "version", 1)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("applying bid to auction %s: %w", id, err)
	}
	return raised, nil
}

func (r *AuctionRepo) SetBidSummary(ctx context.Context, id string, expectedVersion int64, currentBid decimal.NullDecimal, bidCount int) error {
	key := r.auctionKey(id)
	err := r.s.watch(ctx, func(tx *redis.Tx) error {
		a, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if a.Version != expectedVersion {
			return fmt.Errorf("at version %d, expected %d: %w", a.Version, expectedVersion, store.ErrVersionConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"current_bid", nullDecimalString(currentBid),
				"bid_count", bidCount,
				"updated_at", formatTime(r.s.now()),
			)
			pipe.HIncrBy(ctx, key, "version", 1)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("setting bid summary on auction %s: %w", id, err)
	}
	return nil
}

func (r *AuctionRepo) load(ctx context.Context, tx *redis.Tx, key string) (*store.Auction, error) {
	fields, err := tx.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeAuction(fields)
}

func encodeAuction(a *store.Auction) map[string]any {
	end := ""
	if a.AuctionEndTime != nil {
		end = formatTime(*a.AuctionEndTime)
	}
	return map[string]any{
		"id":               a.ID,
		"seller_id":        a.SellerID,
		"price":            a.Price.String(),
		"current_bid":      nullDecimalString(a.CurrentBid),
		"bid_count":        a.BidCount,
		"status":           string(a.Status),
		"auction_end_time": end,
		"version":          a.Version,
		"created_at":       formatTime(a.CreatedAt),
		"updated_at":       formatTime(a.UpdatedAt),
	}
}

func decodeAuction(f map[string]string) (*store.Auction, error) {
	a := &store.Auction{
		ID:       f["id"],
		SellerID: f["seller_id"],
		Status:   store.AuctionStatus(f["status"]),
	}
	var errs []error
	var err error

	a.Price, err = decimal.NewFromString(f["price"])
	errs = append(errs, err)
	if v := f["current_bid"]; v != "" {
		d, err := decimal.NewFromString(v)
		errs = append(errs, err)
		a.CurrentBid = decimal.NewNullDecimal(d)
	}
	a.BidCount, err = strconv.Atoi(f["bid_count"])
	errs = append(errs, err)
	a.Version, err = strconv.ParseInt(f["version"], 10, 64)
	errs = append(errs, err)
	if v := f["auction_end_time"]; v != "" {
		t, err := parseTime(v)
		errs = append(errs, err)
		a.AuctionEndTime = &t
	}
	a.CreatedAt, err = parseTime(f["created_at"])
	errs = append(errs, err)
	a.UpdatedAt, err = parseTime(f["updated_at"])
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
