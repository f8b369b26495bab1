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

// EditBuyOrder moves a bid to a new price and size. The wallet must
// cover the new totals together with the owner's other open bids; size 0
// closes the order and releases its reservation.
func (s *Service) EditBuyOrder(ctx context.Context, caller, orderAddress string, newPrice, newSize uint64) (*model.Order, error) {
	const op = "edit_buy_order"

	s.mu.Lock()
	defer s.mu.Unlock()

	if newPrice == 0 {
		return nil, reject(errf(KindInvalidParameters, op, "price must be positive"))
	}

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return nil, err
	}
	if order.Side.IsSell() {
		return nil, reject(errf(KindInvalidParameters, op, "order %s is not a buy order", orderAddress))
	}
	if order.Owner != caller {
		return nil, reject(errf(KindAuthorization, op, "caller %s does not own order %s", caller, orderAddress))
	}
	if !order.IsActive() {
		return nil, reject(errf(KindState, op, "order %s is closed", orderAddress))
	}

	direction := model.Decrease
	if newSize > order.Size {
		direction = model.Increase
	}
	market, err := s.getMarket(ctx, op, order.Market)
	if err != nil {
		return nil, err
	}
	if !model.ValidEditDirection(direction, market.IsActive()) {
		return nil, reject(errf(KindState, op, "market %s is closed to new exposure", order.Market))
	}

	wallet, err := s.getWallet(ctx, op, order.Wallet)
	if err != nil {
		return nil, err
	}

	if newSize > 0 {
		cost, serr := safe.Mul(newPrice, newSize)
		if serr != nil {
			return nil, reject(errf(KindInvalidParameters, op, "bid value overflows: %v", serr))
		}
		reserved, rerr := s.reservedFor(ctx, op, caller, orderAddress)
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
	}

	bids, serr := safe.Sub(wallet.ActiveBids, order.Size)
	if serr == nil {
		bids, serr = safe.Add(bids, newSize)
	}
	if serr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "active bids adjustment overflows: %v", serr))
	}
	wallet.ActiveBids = bids

	now := s.now()
	order.ApplyEdit(newPrice, newSize, now)

	cs := store.NewChangeset()
	cs.PutWallet(wallet)
	cs.PutOrder(order)

	ev := events.New(events.TypeOrderEdited, now)
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Wallet = wallet.Address
	ev.Owner = caller
	ev.Price = newPrice
	ev.Size = newSize
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	if order.State == model.OrderClosed {
		metrics.OpenOrders.WithLabelValues(string(order.Side)).Dec()
	}
	return order, nil
}

// EditSellOrder re-prices a listing without touching its escrow.
func (s *Service) EditSellOrder(ctx context.Context, caller, orderAddress string, newPrice uint64) (*model.Order, error) {
	const op = "edit_sell_order"

	s.mu.Lock()
	defer s.mu.Unlock()

	if newPrice == 0 {
		return nil, reject(errf(KindInvalidParameters, op, "price must be positive"))
	}

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return nil, err
	}
	if !order.Side.IsSell() {
		return nil, reject(errf(KindInvalidParameters, op, "order %s is not a sell order", orderAddress))
	}
	if order.Owner != caller {
		return nil, reject(errf(KindAuthorization, op, "caller %s does not own order %s", caller, orderAddress))
	}
	if !order.IsActive() {
		return nil, reject(errf(KindState, op, "order %s is closed", orderAddress))
	}

	now := s.now()
	order.ApplyEdit(newPrice, order.Size, now)

	cs := store.NewChangeset()
	cs.PutOrder(order)

	ev := events.New(events.TypeOrderEdited, now)
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Owner = caller
	ev.AssetID = order.AssetID
	ev.Price = newPrice
	ev.Size = order.Size
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	return order, nil
}

// EditOrder is the generic directional edit: size moves by delta in the
// given direction at a new price. Increases are rejected once the order
// or its market has closed. Sell-side increases re-lock custody and
// refresh the tracker; a sell edited down to zero releases its escrow.
func (s *Service) EditOrder(ctx context.Context, caller, orderAddress string, newPrice, sizeDelta uint64, direction model.EditDirection, proof *custody.Proof) (*model.Order, error) {
	const op = "edit_order"

	s.mu.Lock()
	defer s.mu.Unlock()

	if newPrice == 0 {
		return nil, reject(errf(KindInvalidParameters, op, "price must be positive"))
	}
	if direction != model.Increase && direction != model.Decrease {
		return nil, reject(errf(KindInvalidParameters, op, "unknown direction %q", direction))
	}

	order, err := s.getOrder(ctx, op, orderAddress)
	if err != nil {
		return nil, err
	}
	if order.Owner != caller {
		return nil, reject(errf(KindAuthorization, op, "caller %s does not own order %s", caller, orderAddress))
	}
	market, err := s.getMarket(ctx, op, order.Market)
	if err != nil {
		return nil, err
	}
	if !model.ValidEditDirection(direction, order.IsActive() && market.IsActive()) {
		return nil, reject(errf(KindState, op, "increase rejected on inactive order or market"))
	}
	if !order.IsActive() {
		return nil, reject(errf(KindState, op, "order %s is closed", orderAddress))
	}

	var newSize uint64
	var serr error
	if direction.IsIncrease() {
		newSize, serr = safe.Add(order.Size, sizeDelta)
	} else {
		newSize, serr = safe.Sub(order.Size, sizeDelta)
	}
	if serr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "size %s by %d from %d: %v", direction, sizeDelta, order.Size, serr))
	}

	cs := store.NewChangeset()
	now := s.now()

	if order.Side.IsSell() {
		if err := s.editSellEscrow(ctx, op, cs, order, direction, newSize, proof); err != nil {
			return nil, err
		}
	} else {
		wallet, err := s.getWallet(ctx, op, order.Wallet)
		if err != nil {
			return nil, err
		}
		if newSize > 0 {
			cost, serr := safe.Mul(newPrice, newSize)
			if serr != nil {
				return nil, reject(errf(KindInvalidParameters, op, "bid value overflows: %v", serr))
			}
			reserved, rerr := s.reservedFor(ctx, op, caller, orderAddress)
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
		}
		bids, serr := safe.Sub(wallet.ActiveBids, order.Size)
		if serr == nil {
			bids, serr = safe.Add(bids, newSize)
		}
		if serr != nil {
			return nil, reject(errf(KindInvalidParameters, op, "active bids adjustment overflows: %v", serr))
		}
		wallet.ActiveBids = bids
		cs.PutWallet(wallet)
	}

	order.ApplyEdit(newPrice, newSize, now)
	cs.PutOrder(order)

	ev := events.New(events.TypeOrderEdited, now)
	ev.Market = order.Market
	ev.Order = orderAddress
	ev.Owner = caller
	ev.AssetID = order.AssetID
	ev.Price = newPrice
	ev.Size = newSize
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	if order.State == model.OrderClosed {
		metrics.OpenOrders.WithLabelValues(string(order.Side)).Dec()
	}
	return order, nil
}

// editSellEscrow adjusts the custody side of a directional sell edit: an
// increase re-locks the asset and refreshes the tracker, a decrease to
// zero releases the asset back to its owner and destroys the tracker.
func (s *Service) editSellEscrow(ctx context.Context, op string, cs *store.Changeset, order *model.Order, direction model.EditDirection, newSize uint64, proof *custody.Proof) error {
	trackerAddress, derr := derive.Tracker(order.AssetID)
	if derr != nil {
		return reject(errf(KindInvalidParameters, op, "%v", derr))
	}

	if direction.IsIncrease() {
		if !order.Side.IsCompressed() {
			if err := s.custodian.Lock(ctx, order.AssetID, order.Owner, s.escrow, proof); err != nil {
				return reject(wrap(op, err, KindCustody))
			}
		}
		cs.PutTracker(&model.Tracker{
			Version: model.TrackerVersion,
			Address: trackerAddress,
			Market:  order.Market,
			Order:   order.Address,
			Owner:   order.Owner,
			AssetID: order.AssetID,
		})
		return nil
	}

	if newSize == 0 {
		if err := s.releaseEscrow(ctx, op, order, proof); err != nil {
			return err
		}
		cs.DeleteTracker(trackerAddress)
		metrics.EscrowedAssets.Dec()
	}
	return nil
}

// releaseEscrow hands the escrowed asset back to the order's owner:
// compressed leaves re-parent from the escrow authority, record-held
// tokens are thawed and de-delegated.
func (s *Service) releaseEscrow(ctx context.Context, op string, order *model.Order, proof *custody.Proof) error {
	if order.Side.IsCompressed() {
		if err := s.custodian.Move(ctx, order.AssetID, s.escrow, order.Owner, proof); err != nil {
			return reject(wrap(op, err, KindCustody))
		}
		return nil
	}
	if err := s.custodian.Unlock(ctx, order.AssetID, order.Owner, s.escrow, proof); err != nil {
		return reject(wrap(op, err, KindCustody))
	}
	return nil
}
