// Package engine implements the settlement operations: market and wallet
// lifecycle, order init/edit/close, and the fills where payment, custody,
// fee extraction, and royalty distribution all land together or not at
// all.
//
// Every operation follows the same shape: load records, validate, make
// custody and payment calls, stage entity writes in a store.Changeset,
// and commit them with one Apply. A mutex serializes operations, so two
// fills can never race the same order or wallet.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/derive"
	"github.com/bridgesplit/listings/internal/events"
	"github.com/bridgesplit/listings/internal/fees"
	"github.com/bridgesplit/listings/internal/metrics"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/payments"
	"github.com/bridgesplit/listings/internal/safe"
	"github.com/bridgesplit/listings/internal/store"
)

// EscrowAuthority is the account name custody locks and compressed
// leaves are parented to while an asset sits under a sell order.
const EscrowAuthority = "listings-escrow"

// Service executes settlement operations. Uses a mutex for serialized
// execution (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store     store.Store
	custodian *custody.Custodian
	payments  payments.Ledger
	oracle    fees.Oracle
	pub       events.Publisher
	escrow    string
	now       func() int64
	mu        sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() int64) Option {
	return func(s *Service) { s.now = now }
}

// WithEscrowAuthority overrides the escrow account name.
func WithEscrowAuthority(account string) Option {
	return func(s *Service) { s.escrow = account }
}

// NewService wires a settlement service over its collaborators.
func NewService(st store.Store, c *custody.Custodian, pay payments.Ledger, oracle fees.Oracle, opts ...Option) *Service {
	s := &Service{
		store:     st,
		custodian: c,
		payments:  pay,
		oracle:    oracle,
		pub:       events.NopPublisher{},
		escrow:    EscrowAuthority,
		now:       func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// commit applies the changeset and publishes the event, logging the
// operation either way. Events only go out after a successful Apply.
func (s *Service) commit(ctx context.Context, op string, cs *store.Changeset, ev events.Event) error {
	if err := s.store.Apply(ctx, cs); err != nil {
		slog.Error("apply failed", "op", op, "err", err)
		return wrap(op, err, KindState)
	}
	s.pub.Publish(ev)
	slog.Info("operation committed", "op", op, "event", ev.Type, "order", ev.Order, "market", ev.Market)
	return nil
}

// reject counts and returns an operation failure.
func reject(err *Error) error {
	metrics.RejectedOperations.WithLabelValues(string(err.Kind)).Inc()
	return err
}

// getMarket loads a market or reports KindNotFound.
func (s *Service) getMarket(ctx context.Context, op, address string) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, address)
	if err != nil {
		return nil, reject(wrap(op, err, KindState))
	}
	return m, nil
}

func (s *Service) getOrder(ctx context.Context, op, address string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, address)
	if err != nil {
		return nil, reject(wrap(op, err, KindState))
	}
	return o, nil
}

func (s *Service) getWallet(ctx context.Context, op, address string) (*model.Wallet, error) {
	w, err := s.store.GetWallet(ctx, address)
	if err != nil {
		return nil, reject(wrap(op, err, KindState))
	}
	return w, nil
}

// exists reports whether a record already occupies an address, treating
// any error other than a clean miss as existence so creation never
// clobbers.
func exists(err error) bool {
	return err == nil
}

// reservedFor sums price×size over an owner's open buy orders, the
// amount the owner's wallet must keep covered.
func (s *Service) reservedFor(ctx context.Context, op, owner string, skip string) (uint64, *Error) {
	orders, err := s.store.ListOrdersByOwner(ctx, owner)
	if err != nil {
		return 0, wrap(op, err, KindState)
	}
	var total uint64
	for i := range orders {
		o := &orders[i]
		if o.Address == skip || o.Side.IsSell() || !o.IsActive() {
			continue
		}
		cost, err := safe.Mul(o.Price, o.Size)
		if err != nil {
			return 0, errf(KindInvalidParameters, op, "reservation overflow for order %s: %v", o.Address, err)
		}
		total, err = safe.Add(total, cost)
		if err != nil {
			return 0, errf(KindInvalidParameters, op, "reservation overflow for owner %s: %v", owner, err)
		}
	}
	return total, nil
}

// Read-side queries used by the HTTP surface.

// Market returns a market by address.
func (s *Service) Market(ctx context.Context, address string) (*model.Market, error) {
	return s.getMarket(ctx, "get_market", address)
}

// Order returns an order by address.
func (s *Service) Order(ctx context.Context, address string) (*model.Order, error) {
	return s.getOrder(ctx, "get_order", address)
}

// WalletFor returns the wallet derived from owner.
func (s *Service) WalletFor(ctx context.Context, owner string) (*model.Wallet, error) {
	const op = "get_wallet"
	address, err := derive.Wallet(owner)
	if err != nil {
		return nil, errf(KindInvalidParameters, op, "%v", err)
	}
	return s.getWallet(ctx, op, address)
}

// OrdersByMarket lists every order attached to a market.
func (s *Service) OrdersByMarket(ctx context.Context, market string) ([]model.Order, error) {
	orders, err := s.store.ListOrdersByMarket(ctx, market)
	if err != nil {
		return nil, wrap("list_orders", err, KindState)
	}
	return orders, nil
}

// OrdersByOwner lists every order owned by owner.
func (s *Service) OrdersByOwner(ctx context.Context, owner string) ([]model.Order, error) {
	orders, err := s.store.ListOrdersByOwner(ctx, owner)
	if err != nil {
		return nil, wrap("list_orders", err, KindState)
	}
	return orders, nil
}
