package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bridgesplit/listings/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Sizes and balances are stored as NUMERIC(20,0) so the full uint64 range
// round-trips exactly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL the store expects. Applied by the operator or at boot.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	address       TEXT PRIMARY KEY,
	version       SMALLINT NOT NULL,
	payment_asset TEXT NOT NULL,
	initializer   TEXT NOT NULL,
	state         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	address    TEXT PRIMARY KEY,
	version    SMALLINT NOT NULL,
	nonce      TEXT NOT NULL,
	market     TEXT NOT NULL,
	owner      TEXT NOT NULL,
	wallet     TEXT NOT NULL,
	side       TEXT NOT NULL,
	size       NUMERIC(20,0) NOT NULL,
	price      NUMERIC(20,0) NOT NULL,
	state      TEXT NOT NULL,
	asset_id   TEXT NOT NULL DEFAULT '',
	fees_on    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL,
	edited_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_owner_idx ON orders (owner);
CREATE INDEX IF NOT EXISTS orders_market_idx ON orders (market);
CREATE TABLE IF NOT EXISTS wallets (
	address     TEXT PRIMARY KEY,
	version     SMALLINT NOT NULL,
	owner       TEXT NOT NULL,
	balance     NUMERIC(20,0) NOT NULL,
	active_bids NUMERIC(20,0) NOT NULL
);
CREATE TABLE IF NOT EXISTS trackers (
	address  TEXT PRIMARY KEY,
	version  SMALLINT NOT NULL,
	market   TEXT NOT NULL,
	"order"  TEXT NOT NULL,
	owner    TEXT NOT NULL,
	asset_id TEXT NOT NULL
);
`

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, address string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT address, version, payment_asset, initializer, state
		 FROM markets WHERE address = $1`, address).
		Scan(&m.Address, &m.Version, &m.PaymentAsset, &m.Initializer, &m.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", address, err)
	}
	return &m, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, address string) (*model.Order, error) {
	var o model.Order
	var size, price string
	err := s.pool.QueryRow(ctx,
		`SELECT address, version, nonce, market, owner, wallet, side,
		        size::TEXT, price::TEXT, state, asset_id, fees_on,
		        created_at, edited_at
		 FROM orders WHERE address = $1`, address).
		Scan(&o.Address, &o.Version, &o.Nonce, &o.Market, &o.Owner, &o.Wallet,
			&o.Side, &size, &price, &o.State, &o.AssetID, &o.FeesOn,
			&o.CreatedAt, &o.EditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", address, err)
	}
	o.Size, _ = strconv.ParseUint(size, 10, 64)
	o.Price, _ = strconv.ParseUint(price, 10, 64)
	return &o, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, address string) (*model.Wallet, error) {
	var w model.Wallet
	var balance, activeBids string
	err := s.pool.QueryRow(ctx,
		`SELECT address, version, owner, balance::TEXT, active_bids::TEXT
		 FROM wallets WHERE address = $1`, address).
		Scan(&w.Address, &w.Version, &w.Owner, &balance, &activeBids)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}
	w.Balance, _ = strconv.ParseUint(balance, 10, 64)
	w.ActiveBids, _ = strconv.ParseUint(activeBids, 10, 64)
	return &w, nil
}

func (s *PostgresStore) GetTracker(ctx context.Context, address string) (*model.Tracker, error) {
	var t model.Tracker
	err := s.pool.QueryRow(ctx,
		`SELECT address, version, market, "order", owner, asset_id
		 FROM trackers WHERE address = $1`, address).
		Scan(&t.Address, &t.Version, &t.Market, &t.Order, &t.Owner, &t.AssetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracker %s: %w", address, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListOrdersByOwner(ctx context.Context, owner string) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT address, version, nonce, market, owner, wallet, side,
		        size::TEXT, price::TEXT, state, asset_id, fees_on,
		        created_at, edited_at
		 FROM orders WHERE owner = $1 ORDER BY created_at`, owner)
}

func (s *PostgresStore) ListOrdersByMarket(ctx context.Context, market string) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT address, version, nonce, market, owner, wallet, side,
		        size::TEXT, price::TEXT, state, asset_id, fees_on,
		        created_at, edited_at
		 FROM orders WHERE market = $1 ORDER BY created_at`, market)
}

func (s *PostgresStore) listOrders(ctx context.Context, query, arg string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var size, price string
		if err := rows.Scan(&o.Address, &o.Version, &o.Nonce, &o.Market, &o.Owner,
			&o.Wallet, &o.Side, &size, &price, &o.State, &o.AssetID, &o.FeesOn,
			&o.CreatedAt, &o.EditedAt); err != nil {
			return nil, err
		}
		o.Size, _ = strconv.ParseUint(size, 10, 64)
		o.Price, _ = strconv.ParseUint(price, 10, 64)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Apply commits every staged op in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, cs *Changeset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin changeset: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, o := range cs.ops {
		switch o.kind {
		case opPutMarket:
			m := o.market
			_, err = tx.Exec(ctx,
				`INSERT INTO markets (address, version, payment_asset, initializer, state)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (address) DO UPDATE
				 SET payment_asset = $3, initializer = $4, state = $5`,
				m.Address, m.Version, m.PaymentAsset, m.Initializer, m.State)
		case opPutOrder:
			ord := o.order
			_, err = tx.Exec(ctx,
				`INSERT INTO orders (address, version, nonce, market, owner, wallet, side,
				                     size, price, state, asset_id, fees_on, created_at, edited_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13, $14)
				 ON CONFLICT (address) DO UPDATE
				 SET size = $8::NUMERIC, price = $9::NUMERIC, state = $10, edited_at = $14`,
				ord.Address, ord.Version, ord.Nonce, ord.Market, ord.Owner, ord.Wallet,
				ord.Side, strconv.FormatUint(ord.Size, 10), strconv.FormatUint(ord.Price, 10),
				ord.State, ord.AssetID, ord.FeesOn, ord.CreatedAt, ord.EditedAt)
		case opPutWallet:
			w := o.wallet
			_, err = tx.Exec(ctx,
				`INSERT INTO wallets (address, version, owner, balance, active_bids)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
				 ON CONFLICT (address) DO UPDATE
				 SET balance = $4::NUMERIC, active_bids = $5::NUMERIC`,
				w.Address, w.Version, w.Owner,
				strconv.FormatUint(w.Balance, 10), strconv.FormatUint(w.ActiveBids, 10))
		case opPutTracker:
			t := o.tracker
			_, err = tx.Exec(ctx,
				`INSERT INTO trackers (address, version, market, "order", owner, asset_id)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (address) DO UPDATE
				 SET market = $3, "order" = $4, owner = $5, asset_id = $6`,
				t.Address, t.Version, t.Market, t.Order, t.Owner, t.AssetID)
		case opDeleteOrder:
			_, err = tx.Exec(ctx, `DELETE FROM orders WHERE address = $1`, o.address)
		case opDeleteTracker:
			_, err = tx.Exec(ctx, `DELETE FROM trackers WHERE address = $1`, o.address)
		}
		if err != nil {
			return fmt.Errorf("apply changeset: %w", err)
		}
	}

	return tx.Commit(ctx)
}
