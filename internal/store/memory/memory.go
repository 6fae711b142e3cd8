// Package memory provides a store.Driver that keeps auctions, bids and audit
// events in process memory. Each method is atomic on its own, but nothing
// spans calls, which mirrors a document store with per-document writes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/config"
	"github.com/jensholdgaard/bidengine/internal/event"
	"github.com/jensholdgaard/bidengine/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return New(clk).Repositories(), nil
}

// Store holds all in-memory state shared by the repositories.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock

	auctions map[string]*store.Auction
	bids     map[string]*store.Bid
	// byProduct indexes each product's bids in rank order.
	byProduct   map[string]*btree.BTreeG[*store.Bid]
	lastCreated map[string]time.Time
	events      []event.Event
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:       clk,
		auctions:    make(map[string]*store.Auction),
		bids:        make(map[string]*store.Bid),
		byProduct:   make(map[string]*btree.BTreeG[*store.Bid]),
		lastCreated: make(map[string]time.Time),
	}
}

// Repositories returns repository views over s.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Auctions: &AuctionRepo{s: s},
		Bids:     &BidRepo{s: s},
		Events:   &EventStore{s: s},
		Closer:   store.NopCloser{},
		Ping:     func(context.Context) error { return nil },
	}
}

func lessBid(a, b *store.Bid) bool { return a.RanksBefore(*b) }

func (s *Store) productIndex(productID string) *btree.BTreeG[*store.Bid] {
	idx, ok := s.byProduct[productID]
	if !ok {
		idx = btree.NewG[*store.Bid](16, lessBid)
		s.byProduct[productID] = idx
	}
	return idx
}
