// Package redisstore provides the "redis" store.Driver. Auctions and bids
// are hashes, and each mutating call touches a single hash through either a
// Lua script or a WATCH transaction.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/config"
	"github.com/jensholdgaard/bidengine/internal/store"
)

// maxWatchRetries bounds how often a WATCH transaction is retried after a
// concurrent writer touched one of its keys.
const maxWatchRetries = 16

func init() {
	store.Register("redis", openRedis)
}

func openRedis(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Redis.Addr, err)
	}

	return New(rdb, cfg.Redis.KeyPrefix, clk).Repositories(), nil
}

// Store holds the client and key layout shared by the repositories.
type Store struct {
	rdb    *redis.Client
	prefix string
	clock  clock.Clock
}

// New returns a Store that namespaces every key with prefix.
func New(rdb *redis.Client, prefix string, clk clock.Clock) *Store {
	return &Store{rdb: rdb, prefix: prefix, clock: clk}
}

// Repositories returns repository views over s.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Auctions: &AuctionRepo{s: s},
		Bids:     &BidRepo{s: s},
		Events:   &EventStore{s: s},
		Closer:   s.rdb,
		Ping:     func(ctx context.Context) error { return s.rdb.Ping(ctx).Err() },
	}
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

// watch runs fn inside WATCH on keys, retrying when the transaction is
// aborted by a concurrent write.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxWatchRetries {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("watching %v: %w", keys, redis.TxFailedErr)
}

// now returns the clock time truncated to the precision kept in redis.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// flipScript sets a hash field from ARGV[2] to ARGV[3] when it currently
// holds ARGV[2]. It returns -1 for a missing hash, 0 when nothing changed
// and 1 when the field was flipped. ARGV[4..] are extra field/value pairs
// written on a flip, and ARGV[1] names an optional counter to increment.
var flipScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return -1
	end
	local field = ARGV[2]
	if redis.call('HGET', KEYS[1], field) ~= ARGV[3] then
		return 0
	end
	redis.call('HSET', KEYS[1], field, ARGV[4])
	for i = 5, #ARGV, 2 do
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
	end
	if ARGV[1] ~= '' then
		redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
	end
	return 1
`)

// flip runs flipScript against key and maps its result.
func (s *Store) flip(ctx context.Context, key, counter, field, from, to string, extra ...string) (bool, error) {
	args := []any{counter, field, from, to}
	for _, e := range extra {
		args = append(args, e)
	}
	n, err := flipScript.Run(ctx, s.rdb, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	switch n {
	case -1:
		return false, store.ErrNotFound
	case 1:
		return true, nil
	}
	return false, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
