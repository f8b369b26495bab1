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

// CloseOrder cancels an open order. Owner only; closing an already
// closed order is a state error, and custody is never released twice.
// Buy closes free the wallet reservation, sell closes hand the escrowed
// asset back and destroy its tracker.
func (s *Service) CloseOrder(ctx context.Context, caller, orderAddress string, proof *custody.Proof) (*model.Order, error) {
	return s.closeOrder(ctx, "close_order", caller, orderAddress, proof)
}

// CloseBuyOrder cancels a bid.
func (s *Service) CloseBuyOrder(ctx context.Context, caller, orderAddress string) (*model.Order, error) {
	const op = "close_buy_order"

	if _, err := s.peekSide(ctx, op, orderAddress, false); err != nil {
		return nil, err
	}
	return s.closeOrder(ctx, op, caller, orderAddress, nil)
}

// CloseSellOrder cancels a listing, releasing its escrow.
func (s *Service) CloseSellOrder(ctx context.Context, caller, orderAddress string, proof *custody.Proof) (*model.Order, error) {
	const op = "close_sell_order"

	if _, err := s.peekSide(ctx, op, orderAddress, true); err != nil {
		return nil, err
	}
	return s.closeOrder(ctx, op, caller, orderAddress, proof)
}

// CompressedCloseSellOrder cancels a compressed listing; the inclusion
// proof is required to re-parent the leaf back to the owner.
func (s *Service) CompressedCloseSellOrder(ctx context.Context, caller, orderAddress string, proof *custody.Proof) (*model.Order, error) {
	const op = "compressed_close_sell_order"

	if proof == nil {
		return nil, reject(errf(KindInvalidParameters, op, "inclusion proof required"))
	}
	if _, err := s.peekSide(ctx, op, orderAddress, true); err != nil {
		return nil, err
	}
	return s.closeOrder(ctx, op, caller, orderAddress, proof)
}

// peekSide verifies an order's side without mutating anything.
func (s *Service) peekSide(ctx context.Context, op, orderAddress string, wantSell bool) (*model.Order, error) {
	order, err := s.store.GetOrder(ctx, orderAddress)
	if err != nil {
		return nil, reject(wrap(op, err, KindState))
	}
	if order.Side.IsSell() != wantSell {
		return nil, reject(errf(KindInvalidParameters, op, "order %s has side %s", orderAddress, order.Side))
	}
	return order, nil
}

func (s *Service) closeOrder(ctx context.Context, op, caller, orderAddress string, proof *custody.Proof) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return nil, err
	}
	if order.Owner != caller {
		return nil, reject(errf(KindAuthorization, op, "caller %s does not own order %s", caller, orderAddress))
	}
	if !order.IsActive() {
		return nil, reject(errf(KindState, op, "order %s is already closed", orderAddress))
	}

	cs := store.NewChangeset()

	if order.Side.IsSell() {
		trackerAddress, derr := derive.Tracker(order.AssetID)
		if derr != nil {
			return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
		}
		if err := s.releaseEscrow(ctx, op, order, proof); err != nil {
			return nil, err
		}
		cs.DeleteTracker(trackerAddress)
	} else {
		wallet, err := s.getWallet(ctx, op, order.Wallet)
		if err != nil {
			return nil, err
		}
		bids, serr := safe.Sub(wallet.ActiveBids, order.Size)
		if serr != nil {
			return nil, reject(errf(KindInvalidParameters, op, "active bids underflow: %v", serr))
		}
		wallet.ActiveBids = bids
		cs.PutWallet(wallet)
	}

	now := s.now()
	side := order.Side
	order.ApplyEdit(order.Price, 0, now)
	cs.PutOrder(order)

	ev := events.New(events.TypeOrderClosed, now)
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Owner = caller
	ev.AssetID = order.AssetID
	ev.Price = order.Price
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	metrics.OpenOrders.WithLabelValues(string(side)).Dec()
	if side.IsSell() {
		metrics.EscrowedAssets.Dec()
	}
	return order, nil
}

// ReclaimOrder deletes a closed order's record, returning its storage to
// the owner. Closed records are kept around for auditability until the
// owner reclaims them.
func (s *Service) ReclaimOrder(ctx context.Context, caller, orderAddress string) error {
	const op = "reclaim_order"

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return err
	}
	if order.Owner != caller {
		return reject(errf(KindAuthorization, op, "caller %s does not own order %s", caller, orderAddress))
	}
	if order.IsActive() {
		return reject(errf(KindState, op, "order %s is still open", orderAddress))
	}

	cs := store.NewChangeset()
	cs.DeleteOrder(orderAddress)

	ev := events.New(events.TypeOrderReclaimed, s.now())
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Owner = caller
	return s.commit(ctx, op, cs, ev)
}
