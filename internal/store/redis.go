package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bridgesplit/listings/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reads check Redis first and fall back to the primary; Apply goes
// to the primary and invalidates every touched address.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) GetMarket(ctx context.Context, address string) (*model.Market, error) {
	var m model.Market
	if s.cacheGet(ctx, marketKey(address), &m) {
		return &m, nil
	}
	got, err := s.primary.GetMarket(ctx, address)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, marketKey(address), got)
	return got, nil
}

func (s *CachedStore) GetOrder(ctx context.Context, address string) (*model.Order, error) {
	var o model.Order
	if s.cacheGet(ctx, orderKey(address), &o) {
		return &o, nil
	}
	got, err := s.primary.GetOrder(ctx, address)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, orderKey(address), got)
	return got, nil
}

func (s *CachedStore) GetWallet(ctx context.Context, address string) (*model.Wallet, error) {
	var w model.Wallet
	if s.cacheGet(ctx, walletKey(address), &w) {
		return &w, nil
	}
	got, err := s.primary.GetWallet(ctx, address)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, walletKey(address), got)
	return got, nil
}

// GetTracker is never cached: tracker existence is the double-listing
// guard, so a stale hit would be a correctness bug, not a slow read.
func (s *CachedStore) GetTracker(ctx context.Context, address string) (*model.Tracker, error) {
	return s.primary.GetTracker(ctx, address)
}

func (s *CachedStore) ListOrdersByOwner(ctx context.Context, owner string) ([]model.Order, error) {
	return s.primary.ListOrdersByOwner(ctx, owner)
}

func (s *CachedStore) ListOrdersByMarket(ctx context.Context, market string) ([]model.Order, error) {
	return s.primary.ListOrdersByMarket(ctx, market)
}

// Apply commits to the primary and invalidates every address the changeset
// touched; the next read re-populates the cache.
func (s *CachedStore) Apply(ctx context.Context, cs *Changeset) error {
	if err := s.primary.Apply(ctx, cs); err != nil {
		return err
	}

	keys := make([]string, 0, len(cs.ops))
	for _, o := range cs.ops {
		switch o.kind {
		case opPutMarket:
			keys = append(keys, marketKey(o.address))
		case opPutOrder, opDeleteOrder:
			keys = append(keys, orderKey(o.address))
		case opPutWallet:
			keys = append(keys, walletKey(o.address))
		}
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheGet(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(addr string) string { return fmt.Sprintf("market:%s", addr) }
func orderKey(addr string) string  { return fmt.Sprintf("order:%s", addr) }
func walletKey(addr string) string { return fmt.Sprintf("wallet:%s", addr) }
