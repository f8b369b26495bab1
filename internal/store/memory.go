package store

import (
	"context"
	"sync"

	"github.com/bridgesplit/listings/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[string]*model.Market
	orders   map[string]*model.Order
	wallets  map[string]*model.Wallet
	trackers map[string]*model.Tracker
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*model.Market),
		orders:   make(map[string]*model.Order),
		wallets:  make(map[string]*model.Wallet),
		trackers: make(map[string]*model.Tracker),
	}
}

func (s *MemoryStore) GetMarket(_ context.Context, address string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, address string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, address string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetTracker(_ context.Context, address string) (*model.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trackers[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByOwner(_ context.Context, owner string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.Owner == owner {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (s *MemoryStore) ListOrdersByMarket(_ context.Context, market string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.Market == market {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// Apply commits every staged op under a single lock.
func (s *MemoryStore) Apply(_ context.Context, cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range cs.ops {
		switch o.kind {
		case opPutMarket:
			cp := *o.market
			s.markets[o.address] = &cp
		case opPutOrder:
			cp := *o.order
			s.orders[o.address] = &cp
		case opPutWallet:
			cp := *o.wallet
			s.wallets[o.address] = &cp
		case opPutTracker:
			cp := *o.tracker
			s.trackers[o.address] = &cp
		case opDeleteOrder:
			delete(s.orders, o.address)
		case opDeleteTracker:
			delete(s.trackers, o.address)
		}
	}
	return nil
}
