package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/store"
)

// BidRepo implements store.BidRepository in memory.
type BidRepo struct {
	s *Store
}

func (r *BidRepo) Insert(_ context.Context, b *store.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, exists := r.s.bids[b.ID]; exists {
		return fmt.Errorf("bid %s already exists", b.ID)
	}
	b.CreatedAt = clock.NotBefore(r.s.clock.Now().UTC(), r.s.lastCreated[b.ProductID])
	b.IsHighest = true
	r.s.lastCreated[b.ProductID] = b.CreatedAt

	stored := *b
	r.s.bids[b.ID] = &stored
	r.s.productIndex(b.ProductID).ReplaceOrInsert(&stored)
	return nil
}

func (r *BidRepo) ListHighest(_ context.Context, productID string) ([]store.Bid, error) {
	return r.collect(productID, func(b *store.Bid) bool { return b.IsHighest }), nil
}

func (r *BidRepo) ListByProduct(_ context.Context, productID string) ([]store.Bid, error) {
	return r.collect(productID, func(*store.Bid) bool { return true }), nil
}

func (r *BidRepo) CountByProduct(_ context.Context, productID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	idx, ok := r.s.byProduct[productID]
	if !ok {
		return 0, nil
	}
	return idx.Len(), nil
}

func (r *BidRepo) Demote(_ context.Context, id string) (bool, error) {
	return r.flip(id, true, false)
}

func (r *BidRepo) Promote(_ context.Context, id string) (bool, error) {
	return r.flip(id, false, true)
}

func (r *BidRepo) flip(id string, from, to bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bids[id]
	if !ok {
		return false, fmt.Errorf("updating bid %s: %w", id, store.ErrNotFound)
	}
	if b.IsHighest != from {
		return false, nil
	}
	b.IsHighest = to
	return true, nil
}

// collect walks a product's index in rank order and copies matching bids.
func (r *BidRepo) collect(productID string, keep func(*store.Bid) bool) []store.Bid {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	idx, ok := r.s.byProduct[productID]
	if !ok {
		return nil
	}
	var out []store.Bid
	idx.Ascend(func(b *store.Bid) bool {
		if keep(b) {
			out = append(out, *b)
		}
		return true
	})
	return out
}
