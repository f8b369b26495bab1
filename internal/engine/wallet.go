package engine

import (
	"context"

	"github.com/bridgesplit/listings/internal/derive"
	"github.com/bridgesplit/listings/internal/events"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/safe"
	"github.com/bridgesplit/listings/internal/store"
)

// InitWallet creates the caller's bidding wallet, optionally funding it.
// One wallet per owner: the address derives from the owner alone.
func (s *Service) InitWallet(ctx context.Context, caller string, initialAmount uint64) (*model.Wallet, error) {
	const op = "init_wallet"

	s.mu.Lock()
	defer s.mu.Unlock()

	if caller == "" {
		return nil, reject(errf(KindAuthorization, op, "caller required"))
	}

	address, derr := derive.Wallet(caller)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	if _, err := s.store.GetWallet(ctx, address); exists(err) {
		return nil, reject(errf(KindInvalidParameters, op, "wallet %s already exists for owner %s", address, caller))
	}

	if initialAmount > 0 {
		if err := s.payments.Transfer(ctx, caller, address, initialAmount); err != nil {
			return nil, reject(wrap(op, err, KindInsufficientBalance))
		}
	}

	wallet := &model.Wallet{
		Version: model.WalletVersion,
		Address: address,
		Owner:   caller,
		Balance: initialAmount,
	}

	cs := store.NewChangeset()
	cs.PutWallet(wallet)

	ev := events.New(events.TypeWalletInitialized, s.now())
	ev.Wallet = address
	ev.Owner = caller
	ev.Size = initialAmount
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	return wallet, nil
}

// EditWallet deposits into or withdraws from the caller's bidding wallet.
// A withdrawal may not take the balance below the amount reserved by the
// owner's open buy orders.
func (s *Service) EditWallet(ctx context.Context, caller string, amount uint64, direction model.EditDirection) (*model.Wallet, error) {
	const op = "edit_wallet"

	s.mu.Lock()
	defer s.mu.Unlock()

	if direction != model.Increase && direction != model.Decrease {
		return nil, reject(errf(KindInvalidParameters, op, "unknown direction %q", direction))
	}
	if amount == 0 {
		return nil, reject(errf(KindInvalidParameters, op, "amount must be positive"))
	}

	address, derr := derive.Wallet(caller)
	if derr != nil {
		return nil, reject(errf(KindInvalidParameters, op, "%v", derr))
	}
	wallet, err := s.getWallet(ctx, op, address)
	if err != nil {
		return nil, err
	}

	if direction.IsIncrease() {
		balance, err := safe.Add(wallet.Balance, amount)
		if err != nil {
			return nil, reject(errf(KindInvalidParameters, op, "deposit overflows balance: %v", err))
		}
		if err := s.payments.Transfer(ctx, caller, wallet.Address, amount); err != nil {
			return nil, reject(wrap(op, err, KindInsufficientBalance))
		}
		wallet.Balance = balance
	} else {
		balance, err := safe.Sub(wallet.Balance, amount)
		if err != nil {
			return nil, reject(errf(KindInsufficientBalance, op, "withdraw %d exceeds balance %d", amount, wallet.Balance))
		}
		reserved, rerr := s.reservedFor(ctx, op, caller, "")
		if rerr != nil {
			return nil, reject(rerr)
		}
		if balance < reserved {
			return nil, reject(errf(KindInsufficientBalance, op, "withdraw leaves %d, below %d reserved by open bids", balance, reserved))
		}
		if err := s.payments.Transfer(ctx, wallet.Address, caller, amount); err != nil {
			return nil, reject(wrap(op, err, KindInsufficientBalance))
		}
		wallet.Balance = balance
	}

	cs := store.NewChangeset()
	cs.PutWallet(wallet)

	ev := events.New(events.TypeWalletEdited, s.now())
	ev.Wallet = wallet.Address
	ev.Owner = caller
	ev.Size = amount
	if err := s.commit(ctx, op, cs, ev); err != nil {
		return nil, err
	}
	return wallet, nil
}
