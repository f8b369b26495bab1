// Package store defines persistence for the listings engine's entity
// records. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// Reads are plain lookups by derived address. Writes only happen through
// a Changeset handed to Apply, which commits every staged mutation in one
// atomic step — an operation either lands entirely or not at all.
package store

import (
	"context"
	"errors"

	"github.com/bridgesplit/listings/internal/model"
)

// ErrNotFound is returned when no record exists at an address.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence interface.
type Store interface {
	GetMarket(ctx context.Context, address string) (*model.Market, error)
	GetOrder(ctx context.Context, address string) (*model.Order, error)
	GetWallet(ctx context.Context, address string) (*model.Wallet, error)
	GetTracker(ctx context.Context, address string) (*model.Tracker, error)

	// ListOrdersByOwner returns every order record owned by owner,
	// including closed ones still awaiting reclamation.
	ListOrdersByOwner(ctx context.Context, owner string) ([]model.Order, error)

	// ListOrdersByMarket returns every order attached to a market.
	ListOrdersByMarket(ctx context.Context, market string) ([]model.Order, error)

	// Apply commits a staged changeset atomically.
	Apply(ctx context.Context, cs *Changeset) error
}

type opKind int

const (
	opPutMarket opKind = iota
	opPutOrder
	opPutWallet
	opPutTracker
	opDeleteOrder
	opDeleteTracker
)

type op struct {
	kind    opKind
	address string
	market  *model.Market
	order   *model.Order
	wallet  *model.Wallet
	tracker *model.Tracker
}

// Changeset is an ordered set of staged writes. Entities are staged as
// values so later mutation of the caller's copy cannot leak into the
// commit.
type Changeset struct {
	ops []op
}

// NewChangeset returns an empty changeset.
func NewChangeset() *Changeset {
	return &Changeset{}
}

// Empty reports whether nothing has been staged.
func (c *Changeset) Empty() bool {
	return len(c.ops) == 0
}

// PutMarket stages a market upsert.
func (c *Changeset) PutMarket(m *model.Market) {
	cp := *m
	c.ops = append(c.ops, op{kind: opPutMarket, address: m.Address, market: &cp})
}

// PutOrder stages an order upsert.
func (c *Changeset) PutOrder(o *model.Order) {
	cp := *o
	c.ops = append(c.ops, op{kind: opPutOrder, address: o.Address, order: &cp})
}

// PutWallet stages a wallet upsert.
func (c *Changeset) PutWallet(w *model.Wallet) {
	cp := *w
	c.ops = append(c.ops, op{kind: opPutWallet, address: w.Address, wallet: &cp})
}

// PutTracker stages a tracker upsert.
func (c *Changeset) PutTracker(t *model.Tracker) {
	cp := *t
	c.ops = append(c.ops, op{kind: opPutTracker, address: t.Address, tracker: &cp})
}

// DeleteOrder stages removal of a closed order record, reclaiming its
// storage.
func (c *Changeset) DeleteOrder(address string) {
	c.ops = append(c.ops, op{kind: opDeleteOrder, address: address})
}

// DeleteTracker stages removal of a custody tracker.
func (c *Changeset) DeleteTracker(address string) {
	c.ops = append(c.ops, op{kind: opDeleteTracker, address: address})
}
