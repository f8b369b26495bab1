package engine

import (
	"context"
	"time"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/derive"
	"github.com/bridgesplit/listings/internal/events"
	"github.com/bridgesplit/listings/internal/fees"
	"github.com/bridgesplit/listings/internal/metrics"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/safe"
	"github.com/bridgesplit/listings/internal/store"
)

// breakdown resolves the fee schedule and computes the value split of a
// fill at price.
func (s *Service) breakdown(ctx context.Context, op string, price uint64, orderFeesOn bool, asset *custody.AssetInfo) (fees.Config, fees.Breakdown, *Error) {
	cfg, err := s.oracle.Schedule(ctx)
	if err != nil {
		return fees.Config{}, fees.Breakdown{}, errf(KindState, op, "fee schedule unavailable: %v", err)
	}
	b, err := fees.Compute(price, fees.Enabled(cfg.FeesOn, orderFeesOn), cfg, asset)
	if err != nil {
		return fees.Config{}, fees.Breakdown{}, errf(KindInvalidParameters, op, "fee computation: %v", err)
	}
	return cfg, b, nil
}

// payOut routes a fill's proceeds from the payer account: seller credit,
// protocol fee to the treasury, and royalty slices to each creator.
func (s *Service) payOut(ctx context.Context, op, payer, seller, treasury string, b fees.Breakdown) *Error {
	if err := s.payments.Transfer(ctx, payer, seller, b.SellerCredit); err != nil {
		return wrap(op, err, KindInsufficientBalance)
	}
	if b.ProtocolFee > 0 {
		if err := s.payments.Transfer(ctx, payer, treasury, b.ProtocolFee); err != nil {
			return wrap(op, err, KindInsufficientBalance)
		}
	}
	for _, royalty := range b.Royalties {
		if err := s.payments.Transfer(ctx, payer, royalty.Recipient, royalty.Amount); err != nil {
			return wrap(op, err, KindInsufficientBalance)
		}
	}
	return nil
}

func recordFill(order *model.Order, b fees.Breakdown) {
	metrics.FillsTotal.WithLabelValues(string(order.Side)).Inc()
	metrics.FillVolume.WithLabelValues(order.Market).Add(float64(b.Price))
	metrics.ProtocolFeesTotal.Add(float64(b.ProtocolFee))
	metrics.RoyaltiesTotal.Add(float64(b.RoyaltyTotal))
	if order.State == model.OrderClosed {
		metrics.OpenOrders.WithLabelValues(string(order.Side)).Dec()
	}
}

// FillBuyOrder settles one unit of a bid: the caller delivers assetID to
// the bid's owner and is paid from the bidding wallet, net of protocol
// fee and creator royalties. The asset must not already sit in escrow
// under a listing.
func (s *Service) FillBuyOrder(ctx context.Context, caller, orderAddress, assetID string, proof *custody.Proof) (*model.Order, error) {
	const op = "fill_buy_order"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if assetID == "" {
		return nil, reject(errf(KindInvalidParameters, op, "asset required"))
	}

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return nil, err
	}
	if order.Side.IsSell() {
		return nil, reject(errf(KindInvalidParameters, op, "order %s is not a buy order", orderAddress))
	}
	if !order.IsActive() {
		return nil, reject(errf(KindAlreadySettled, op, "order %s is already closed", orderAddress))
	}
	market, err := s.getMarket(ctx, op, order.Market)
	if err != nil {
		return nil, err
	}
	if !market.IsActive() {
		return nil, reject(errf(KindState, op, "market %s is closed", order.Market))
	}

	// An escrowed asset settles through its listing, not a direct sale.
	trackerAddress, derr := derive.Tracker(assetID)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, terr := s.store.GetTracker(ctx, trackerAddress); exists(terr) {
		return nil, reject(errf(KindCustody, op, "asset %s is escrowed under a listing", assetID))
	}

	wallet, err := s.getWallet(ctx, op, order.Wallet)
	if err != nil {
		return nil, err
	}
	if wallet.Balance < order.Price {
		return nil, reject(errf(KindInsufficientBalance, op, "wallet balance %d below bid price %d", wallet.Balance, order.Price))
	}

	asset, _, cerr := s.custodian.Resolve(ctx, assetID)
	if cerr != nil {
		return nil, reject(wrap(op, cerr, KindCustody))
	}
	cfg, b, berr := s.breakdown(ctx, op, order.Price, order.FeesOn, asset)
	if berr != nil {
		return nil, reject(berr)
	}

	// Asset first: a custody rejection must abort before any value moves.
	if err := s.custodian.Move(ctx, assetID, caller, order.Owner, proof); err != nil {
		return nil, reject(wrap(op, err, KindCustody))
	}
	if perr := s.payOut(ctx, op, wallet.Address, caller, cfg.Treasury, b); perr != nil {
		return nil, reject(perr)
	}

	balance, serr := safe.Sub(wallet.Balance, order.Price)
	if serr == nil {
		wallet.Balance = balance
		wallet.ActiveBids, serr = safe.Sub(wallet.ActiveBids, 1)
	}
	if serr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "wallet accounting underflow: %v", serr))
	}

	now := s.now()
	newSize, serr := safe.Sub(order.Size, 1)
	if serr != nil {
		return nil, reject(errf(KindAlreadySettled, op, "order %s has no remaining size", orderAddress))
	}
	order.ApplyEdit(order.Price, newSize, now)

	cs := store.NewChangeset()
	cs.PutWallet(wallet)
	cs.PutOrder(order)

	ev := events.New(events.TypeOrderFilled, now)
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Wallet = wallet.Address
	ev.Owner = order.Owner
	ev.AssetID = assetID
	ev.Price = order.Price
	ev.Size = newSize
	ev.Fee = b.ProtocolFee
	ev.RoyaltyTotal = b.RoyaltyTotal
	ev.SellerCredit = b.SellerCredit
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	recordFill(order, b)
	metrics.FillLatency.WithLabelValues(string(order.Side)).Observe(time.Since(start).Seconds())
	return order, nil
}

// CompressedFillBuyOrder settles a bid with a compressed asset; the
// caller must supply the leaf's inclusion proof.
func (s *Service) CompressedFillBuyOrder(ctx context.Context, caller, orderAddress, assetID string, proof *custody.Proof) (*model.Order, error) {
	if proof == nil {
		return nil, reject(errf(KindInvalidParameters, "compressed_fill_buy_order", "inclusion proof required"))
	}
	return s.FillBuyOrder(ctx, caller, orderAddress, assetID, proof)
}

// FillSellOrder settles a listing: the caller pays the order price
// directly, the escrowed asset is released and moved to the caller, and
// the seller is credited net of fee and royalties.
func (s *Service) FillSellOrder(ctx context.Context, caller, orderAddress string, proof *custody.Proof) (*model.Order, error) {
	const op = "fill_sell_order"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return nil, err
	}
	if !order.Side.IsSell() {
		return nil, reject(errf(KindInvalidParameters, op, "order %s is not a sell order", orderAddress))
	}
	if !order.IsActive() {
		return nil, reject(errf(KindAlreadySettled, op, "order %s is already closed", orderAddress))
	}
	market, err := s.getMarket(ctx, op, order.Market)
	if err != nil {
		return nil, err
	}
	if !market.IsActive() {
		return nil, reject(errf(KindState, op, "market %s is closed", order.Market))
	}

	trackerAddress, derr := derive.Tracker(order.AssetID)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, terr := s.store.GetTracker(ctx, trackerAddress); !exists(terr) {
		return nil, reject(errf(KindCustody, op, "no escrow tracker for asset %s", order.AssetID))
	}

	// The caller pays out of pocket; verify the full price up front so a
	// later transfer cannot fail halfway through the split.
	callerBalance, perr := s.payments.Balance(ctx, caller)
	if perr != nil {
		return nil, reject(wrap(op, perr, KindInsufficientBalance))
	}
	if callerBalance < order.Price {
		return nil, reject(errf(KindInsufficientBalance, op, "caller balance %d below price %d", callerBalance, order.Price))
	}

	asset, _, cerr := s.custodian.Resolve(ctx, order.AssetID)
	if cerr != nil {
		return nil, reject(wrap(op, cerr, KindCustody))
	}
	cfg, b, berr := s.breakdown(ctx, op, order.Price, order.FeesOn, asset)
	if berr != nil {
		return nil, reject(berr)
	}

	// Fail on missing material before any custody state changes.
	if err := custody.ValidateMoveProof(asset, proof); err != nil {
		return nil, reject(wrap(op, err, KindInvalidParameters))
	}
	if err := s.moveEscrowed(ctx, op, order, caller, proof); err != nil {
		return nil, err
	}
	if perr := s.payOut(ctx, op, caller, order.Owner, cfg.Treasury, b); perr != nil {
		return nil, reject(perr)
	}

	now := s.now()
	newSize, serr := safe.Sub(order.Size, 1)
	if serr != nil {
		return nil, reject(errf(KindAlreadySettled, op, "order %s has no remaining size", orderAddress))
	}
	order.ApplyEdit(order.Price, newSize, now)

	cs := store.NewChangeset()
	cs.PutOrder(order)
	if order.State == model.OrderClosed {
		cs.DeleteTracker(trackerAddress)
	}

	ev := events.New(events.TypeOrderFilled, now)
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Owner = caller
	ev.AssetID = order.AssetID
	ev.Price = order.Price
	ev.Size = newSize
	ev.Fee = b.ProtocolFee
	ev.RoyaltyTotal = b.RoyaltyTotal
	ev.SellerCredit = b.SellerCredit
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	if order.State == model.OrderClosed {
		metrics.EscrowedAssets.Dec()
	}
	recordFill(order, b)
	metrics.FillLatency.WithLabelValues(string(order.Side)).Observe(time.Since(start).Seconds())
	return order, nil
}

// CompressedFillSellOrder settles a compressed listing; the caller must
// supply the escrowed leaf's inclusion proof.
func (s *Service) CompressedFillSellOrder(ctx context.Context, caller, orderAddress string, proof *custody.Proof) (*model.Order, error) {
	if proof == nil {
		return nil, reject(errf(KindInvalidParameters, "compressed_fill_sell_order", "inclusion proof required"))
	}
	return s.FillSellOrder(ctx, caller, orderAddress, proof)
}

// moveEscrowed delivers the escrowed asset to the buyer: compressed
// leaves re-parent from the escrow authority, record-held tokens are
// released and then transferred from the seller.
func (s *Service) moveEscrowed(ctx context.Context, op string, order *model.Order, buyer string, proof *custody.Proof) error {
	if order.Side.IsCompressed() {
		if err := s.custodian.Move(ctx, order.AssetID, s.escrow, buyer, proof); err != nil {
			return reject(wrap(op, err, KindCustody))
		}
		return nil
	}
	if err := s.custodian.Unlock(ctx, order.AssetID, order.Owner, s.escrow, proof); err != nil {
		return reject(wrap(op, err, KindCustody))
	}
	if err := s.custodian.Move(ctx, order.AssetID, order.Owner, buyer, proof); err != nil {
		return reject(wrap(op, err, KindCustody))
	}
	return nil
}

// FillOrder settles an explicitly paired bid and listing in one unit of
// work. The execution price is the listing price; a higher bid refunds
// the difference to the bidder, never pays it to the seller.
func (s *Service) FillOrder(ctx context.Context, caller, buyOrderAddress, sellOrderAddress string, proof *custody.Proof) (*model.Order, *model.Order, error) {
	const op = "fill_order"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	buy, err := s.getOrder(ctx, op, buyOrderAddress)
	if err != nil {
		return nil, nil, err
	}
	sell, err := s.getOrder(ctx, op, sellOrderAddress)
	if err != nil {
		return nil, nil, err
	}
	if buy.Side.IsSell() || !sell.Side.IsSell() {
		return nil, nil, reject(errf(KindInvalidParameters, op, "orders must pair a buy with a sell"))
	}
	if !buy.IsActive() || !sell.IsActive() {
		return nil, nil, reject(errf(KindAlreadySettled, op, "one side is already closed"))
	}
	if buy.Market != sell.Market {
		return nil, nil, reject(errf(KindInvalidParameters, op, "orders belong to different markets"))
	}
	market, err := s.getMarket(ctx, op, buy.Market)
	if err != nil {
		return nil, nil, err
	}
	if !market.IsActive() {
		return nil, nil, reject(errf(KindState, op, "market %s is closed", buy.Market))
	}
	if buy.Price < sell.Price {
		return nil, nil, reject(errf(KindInvalidParameters, op, "bid %d below ask %d", buy.Price, sell.Price))
	}

	trackerAddress, derr := derive.Tracker(sell.AssetID)
	if derr != nil {
		return nil, nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, terr := s.store.GetTracker(ctx, trackerAddress); !exists(terr) {
		return nil, nil, reject(errf(KindCustody, op, "no escrow tracker for asset %s", sell.AssetID))
	}

	wallet, err := s.getWallet(ctx, op, buy.Wallet)
	if err != nil {
		return nil, nil, err
	}
	if wallet.Balance < buy.Price {
		return nil, nil, reject(errf(KindInsufficientBalance, op, "wallet balance %d below bid price %d", wallet.Balance, buy.Price))
	}

	asset, _, cerr := s.custodian.Resolve(ctx, sell.AssetID)
	if cerr != nil {
		return nil, nil, reject(wrap(op, cerr, KindCustody))
	}

	// Execution happens at the listing price; both fee flags must agree
	// for the protocol fee to apply.
	cfg, b, berr := s.breakdown(ctx, op, sell.Price, buy.FeesOn && sell.FeesOn, asset)
	if berr != nil {
		return nil, nil, reject(berr)
	}
	spill := buy.Price - sell.Price

	if err := custody.ValidateMoveProof(asset, proof); err != nil {
		return nil, nil, reject(wrap(op, err, KindInvalidParameters))
	}
	if err := s.moveEscrowed(ctx, op, sell, buy.Owner, proof); err != nil {
		return nil, nil, err
	}
	if perr := s.payOut(ctx, op, wallet.Address, sell.Owner, cfg.Treasury, b); perr != nil {
		return nil, nil, reject(perr)
	}
	if spill > 0 {
		if err := s.payments.Transfer(ctx, wallet.Address, buy.Owner, spill); err != nil {
			return nil, nil, reject(wrap(op, err, KindInsufficientBalance))
		}
	}

	balance, serr := safe.Sub(wallet.Balance, buy.Price)
	if serr == nil {
		wallet.Balance = balance
		wallet.ActiveBids, serr = safe.Sub(wallet.ActiveBids, 1)
	}
	if serr != nil {
		return nil, nil, reject(errf(KindInvalidParameters, op, "wallet accounting underflow: %v", serr))
	}

	now := s.now()
	buySize, serr := safe.Sub(buy.Size, 1)
	if serr != nil {
		return nil, nil, reject(errf(KindAlreadySettled, op, "bid %s has no remaining size", buyOrderAddress))
	}
	sellSize, serr := safe.Sub(sell.Size, 1)
	if serr != nil {
		return nil, nil, reject(errf(KindAlreadySettled, op, "listing %s has no remaining size", sellOrderAddress))
	}
	buy.ApplyEdit(buy.Price, buySize, now)
	sell.ApplyEdit(sell.Price, sellSize, now)

	cs := store.NewChangeset()
	cs.PutWallet(wallet)
	cs.PutOrder(buy)
	cs.PutOrder(sell)
	if sell.State == model.OrderClosed {
		cs.DeleteTracker(trackerAddress)
	}

	ev := events.New(events.TypeOrderFilled, now)
	ev.Market = sell.Market
	ev.Order = sellOrderAddress
	ev.Wallet = wallet.Address
	ev.Owner = buy.Owner
	ev.AssetID = sell.AssetID
	ev.Price = sell.Price
	ev.Size = sellSize
	ev.Fee = b.ProtocolFee
	ev.RoyaltyTotal = b.RoyaltyTotal
	ev.SellerCredit = b.SellerCredit
	ev.SpillOver = spill
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, nil, err
	}
	if sell.State == model.OrderClosed {
		metrics.EscrowedAssets.Dec()
	}
	recordFill(sell, b)
	recordFill(buy, fees.Breakdown{})
	metrics.FillLatency.WithLabelValues(string(sell.Side)).Observe(time.Since(start).Seconds())
	return buy, sell, nil
}
