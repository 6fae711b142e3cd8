package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidengine/internal/store"
)

// AuctionRepo implements store.AuctionRepository in memory.
type AuctionRepo struct {
	s *Store
}

func (r *AuctionRepo) Create(_ context.Context, a *store.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := r.s.auctions[a.ID]; exists {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	now := r.s.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	if a.Status == "" {
		a.Status = store.StatusActive
	}

	stored := *a
	r.s.auctions[a.ID] = &stored
	return nil
}

func (r *AuctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("getting auction %s: %w", id, store.ErrNotFound)
	}
	out := *a
	return &out, nil
}

func (r *AuctionRepo) List(_ context.Context, statuses ...store.AuctionStatus) ([]store.Auction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []store.Auction
	for _, a := range r.s.auctions {
		if len(statuses) > 0 && !slices.Contains(statuses, a.Status) {
			continue
		}
		out = append(out, *a)
	}
	slices.SortFunc(out, func(x, y store.Auction) int { return x.CreatedAt.Compare(y.CreatedAt) })
	return out, nil
}

func (r *AuctionRepo) MarkInactive(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return false, fmt.Errorf("marking auction %s inactive: %w", id, store.ErrNotFound)
	}
	if a.Status != store.StatusActive {
		return false, nil
	}
	a.Status = store.StatusInactive
	r.touch(a)
	return true, nil
}

func (r *AuctionRepo) ApplyBid(_ context.Context, id string, amount decimal.Decimal, bidCount int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return false, fmt.Errorf("applying bid to auction %s: %w", id, store.ErrNotFound)
	}
	raised := !a.CurrentBid.Valid || amount.GreaterThan(a.CurrentBid.Decimal)
	if raised {
		a.CurrentBid = decimal.NewNullDecimal(amount)
	}
	a.BidCount = max(a.BidCount, bidCount)
	r.touch(a)
	return raised, nil
}

func (r *AuctionRepo) SetBidSummary(_ context.Context, id string, expectedVersion int64, currentBid decimal.NullDecimal, bidCount int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return fmt.Errorf("setting bid summary on auction %s: %w", id, store.ErrNotFound)
	}
	if a.Version != expectedVersion {
		return fmt.Errorf("auction %s at version %d, expected %d: %w", id, a.Version, expectedVersion, store.ErrVersionConflict)
	}
	a.CurrentBid = currentBid
	a.BidCount = bidCount
	r.touch(a)
	return nil
}

func (r *AuctionRepo) touch(a *store.Auction) {
	a.Version++
	a.UpdatedAt = r.s.clock.Now().UTC()
}
