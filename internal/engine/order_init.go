package engine

import (
	"context"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/derive"
	"github.com/bridgesplit/listings/internal/events"
	"github.com/bridgesplit/listings/internal/metrics"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/safe"
	"github.com/bridgesplit/listings/internal/store"
)

// InitBuyOrder places a bid for size units at price each, backed by the
// caller's bidding wallet. The wallet must cover the new bid on top of
// every reservation already held by the owner's open buy orders.
func (s *Service) InitBuyOrder(ctx context.Context, caller, marketAddress, nonce string, price, size uint64, feesOn bool) (*model.Order, error) {
	return s.initBuy(ctx, "init_buy_order", model.SideBuy, caller, marketAddress, nonce, price, size, feesOn)
}

// CompressedInitBuyOrder places a bid to be settled with a compressed
// asset: fills against it must carry the delivered leaf's inclusion
// proof. No proof is needed at init time since no asset is escrowed yet.
func (s *Service) CompressedInitBuyOrder(ctx context.Context, caller, marketAddress, nonce string, price, size uint64, feesOn bool) (*model.Order, error) {
	return s.initBuy(ctx, "compressed_init_buy_order", model.SideCompressedBuy, caller, marketAddress, nonce, price, size, feesOn)
}

func (s *Service) initBuy(ctx context.Context, op string, side model.OrderSide, caller, marketAddress, nonce string, price, size uint64, feesOn bool) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if price == 0 || size == 0 {
		return nil, reject(errf(KindInvalidParameters, op, "price and size must be positive"))
	}
	if nonce == "" {
		return nil, reject(errf(KindInvalidParameters, op, "nonce required"))
	}

	market, err := s.getMarket(ctx, op, marketAddress)
	if err != nil {
		return nil, err
	}
	if !market.IsActive() {
		return nil, reject(errf(KindState, op, "market %s is closed", marketAddress))
	}

	walletAddress, derr := derive.Wallet(caller)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	wallet, err := s.getWallet(ctx, op, walletAddress)
	if err != nil {
		return nil, err
	}

	address, derr := derive.Order(nonce, marketAddress, caller)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, err := s.store.GetOrder(ctx, address); exists(err) {
		return nil, reject(errf(KindInvalidParameters, op, "order %s already exists", address))
	}

	cost, serr := safe.Mul(price, size)
	if serr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "bid value overflows: %v", serr))
	}
	reserved, rerr := s.reservedFor(ctx, op, caller, "")
	if rerr != nil {
		return nil, reject(rerr)
	}
	required, serr := safe.Add(reserved, cost)
	if serr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "total reservation overflows: %v", serr))
	}
	if wallet.Balance < required {
		return nil, reject(errf(KindInsufficientBalance, op, "balance %d below %d required for open bids", wallet.Balance, required))
	}

	bids, serr := safe.Add(wallet.ActiveBids, size)
	if serr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "active bids overflow: %v", serr))
	}
	wallet.ActiveBids = bids

	now := s.now()
	order := &model.Order{
		Version:   model.OrderVersion,
		Address:   address,
		Nonce:     nonce,
		Market:    marketAddress,
		Owner:     caller,
		Wallet:    wallet.Address,
		Side:      side,
		Size:      size,
		Price:     price,
		State:     model.OrderReady,
		FeesOn:    feesOn,
		CreatedAt: now,
		EditedAt:  now,
	}

	cs := store.NewChangeset()
	cs.PutWallet(wallet)
	cs.PutOrder(order)

	ev := events.New(events.TypeOrderInitialized, now)
	ev.Market = marketAddress
	ev.Order = address
	ev.Wallet = wallet.Address
	ev.Owner = caller
	ev.Price = price
	ev.Size = size
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	metrics.OpenOrders.WithLabelValues(string(order.Side)).Inc()
	return order, nil
}

// InitSellOrder lists one unit of an asset at price, locking the asset
// into escrow and creating the tracker that blocks a second listing of
// the same asset.
func (s *Service) InitSellOrder(ctx context.Context, caller, marketAddress, nonce string, price uint64, assetID string, proof *custody.Proof, feesOn bool) (*model.Order, error) {
	return s.initSell(ctx, "init_sell_order", model.SideSell, caller, marketAddress, nonce, price, assetID, proof, feesOn)
}

// CompressedInitSellOrder lists a compressed asset: the Merkle leaf is
// re-parented to the escrow authority under the supplied inclusion proof.
func (s *Service) CompressedInitSellOrder(ctx context.Context, caller, marketAddress, nonce string, price uint64, assetID string, proof *custody.Proof, feesOn bool) (*model.Order, error) {
	const op = "compressed_init_sell_order"
	if proof == nil {
		return nil, reject(errf(KindInvalidParameters, op, "inclusion proof required"))
	}
	return s.initSell(ctx, op, model.SideCompressedSell, caller, marketAddress, nonce, price, assetID, proof, feesOn)
}

func (s *Service) initSell(ctx context.Context, op string, side model.OrderSide, caller, marketAddress, nonce string, price uint64, assetID string, proof *custody.Proof, feesOn bool) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if price == 0 {
		return nil, reject(errf(KindInvalidParameters, op, "price must be positive"))
	}
	if nonce == "" || assetID == "" {
		return nil, reject(errf(KindInvalidParameters, op, "nonce and asset required"))
	}

	market, err := s.getMarket(ctx, op, marketAddress)
	if err != nil {
		return nil, err
	}
	if !market.IsActive() {
		return nil, reject(errf(KindState, op, "market %s is closed", marketAddress))
	}

	trackerAddress, derr := derive.Tracker(assetID)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, err := s.store.GetTracker(ctx, trackerAddress); exists(err) {
		return nil, reject(errf(KindCustody, op, "asset %s is already escrowed under another listing", assetID))
	}

	address, derr := derive.Order(nonce, marketAddress, caller)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, err := s.store.GetOrder(ctx, address); exists(err) {
		return nil, reject(errf(KindInvalidParameters, op, "order %s already exists", address))
	}

	// Escrow the asset. Compressed leaves move under the escrow
	// authority; record-held tokens are delegated (and frozen when the
	// policy restricts transfers).
	if side.IsCompressed() {
		if err := s.custodian.Move(ctx, assetID, caller, s.escrow, proof); err != nil {
			return nil, reject(wrap(op, err, KindCustody))
		}
	} else {
		if err := s.custodian.Lock(ctx, assetID, caller, s.escrow, proof); err != nil {
			return nil, reject(wrap(op, err, KindCustody))
		}
	}

	now := s.now()
	order := &model.Order{
		Version:   model.OrderVersion,
		Address:   address,
		Nonce:     nonce,
		Market:    marketAddress,
		Owner:     caller,
		Side:      side,
		Size:      1,
		Price:     price,
		State:     model.OrderReady,
		AssetID:   assetID,
		FeesOn:    feesOn,
		CreatedAt: now,
		EditedAt:  now,
	}
	tracker := &model.Tracker{
		Version: model.TrackerVersion,
		Address: trackerAddress,
		Market:  marketAddress,
		Order:   address,
		Owner:   caller,
		AssetID: assetID,
	}

	cs := store.NewChangeset()
	cs.PutOrder(order)
	cs.PutTracker(tracker)

	ev := events.New(events.TypeOrderInitialized, now)
	ev.Market = marketAddress
	ev.Order = address
	ev.Owner = caller
	ev.AssetID = assetID
	ev.Price = price
	ev.Size = 1
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	metrics.OpenOrders.WithLabelValues(string(side)).Inc()
	metrics.EscrowedAssets.Inc()
	return order, nil
}
