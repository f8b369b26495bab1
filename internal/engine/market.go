package engine

import (
	"context"

	"github.com/bridgesplit/listings/internal/derive"
	"github.com/bridgesplit/listings/internal/events"
	"github.com/bridgesplit/listings/internal/metrics"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/store"
)

// InitMarket creates the market for a payment asset. The address derives
// from the payment asset alone, so a second init for the same asset
// collides with the first.
func (s *Service) InitMarket(ctx context.Context, caller, paymentAsset string) (*model.Market, error) {
	const op = "init_market"

	s.mu.Lock()
	defer s.mu.Unlock()

	if caller == "" {
		return nil, reject(errf(KindAuthorization, op, "caller required"))
	}
	if paymentAsset == "" {
		return nil, reject(errf(KindInvalidParameters, op, "payment asset required"))
	}

	address, derr := derive.Market(paymentAsset)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, err := s.store.GetMarket(ctx, address); exists(err) {
		return nil, reject(errf(KindInvalidParameters, op, "market %s already exists for payment asset %s", address, paymentAsset))
	}

	market := &model.Market{
		Version:      model.MarketVersion,
		Address:      address,
		PaymentAsset: paymentAsset,
		Initializer:  caller,
		State:        model.MarketOpen,
	}

	cs := store.NewChangeset()
	cs.PutMarket(market)

	ev := events.New(events.TypeMarketInitialized, s.now())
	ev.Market = address
	ev.Owner = caller
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	metrics.ActiveMarkets.Inc()
	return market, nil
}

// EditMarket re-keys a market onto a new payment asset: the old record
// closes and a fresh open market is created at the address derived from
// the new asset. Initializer only.
func (s *Service) EditMarket(ctx context.Context, caller, marketAddress, newPaymentAsset string) (*model.Market, error) {
	const op = "edit_market"

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.getMarket(ctx, op, marketAddress)
	if err != nil {
		return nil, err
	}
	if market.Initializer != caller {
		return nil, reject(errf(KindAuthorization, op, "caller %s is not the market initializer", caller))
	}
	if !market.IsActive() {
		return nil, reject(errf(KindState, op, "market %s is closed", marketAddress))
	}
	if newPaymentAsset == "" {
		return nil, reject(errf(KindInvalidParameters, op, "payment asset required"))
	}
	if newPaymentAsset == market.PaymentAsset {
		return nil, reject(errf(KindInvalidParameters, op, "market already trades against %s", newPaymentAsset))
	}

	newAddress, derr := derive.Market(newPaymentAsset)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, err := s.store.GetMarket(ctx, newAddress); exists(err) {
		return nil, reject(errf(KindInvalidParameters, op, "market %s already exists for payment asset %s", newAddress, newPaymentAsset))
	}

	market.State = model.MarketClosed
	next := &model.Market{
		Version:      model.MarketVersion,
		Address:      newAddress,
		PaymentAsset: newPaymentAsset,
		Initializer:  caller,
		State:        model.MarketOpen,
	}

	cs := store.NewChangeset()
	cs.PutMarket(market)
	cs.PutMarket(next)

	ev := events.New(events.TypeMarketEdited, s.now())
	ev.Market = newAddress
	ev.Owner = caller
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	return next, nil
}

// CloseMarket stops new exposure on a market. Existing orders can still
// be decreased, closed, and filled. Initializer only; closing twice is a
// state error.
func (s *Service) CloseMarket(ctx context.Context, caller, marketAddress string) error {
	const op = "close_market"

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.getMarket(ctx, op, marketAddress)
	if err != nil {
		return err
	}
	if market.Initializer != caller {
		return reject(errf(KindAuthorization, op, "caller %s is not the market initializer", caller))
	}
	if !market.IsActive() {
		return reject(errf(KindState, op, "market %s is already closed", marketAddress))
	}

	market.State = model.MarketClosed

	cs := store.NewChangeset()
	cs.PutMarket(market)

	ev := events.New(events.TypeMarketClosed, s.now())
	ev.Market = marketAddress
	ev.Owner = caller
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return err
	}
	metrics.ActiveMarkets.Dec()
	return nil
}
