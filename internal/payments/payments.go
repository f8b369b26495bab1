// Package payments abstracts movement of the quoted payment asset between
// external accounts: callers, the escrow pools backing bidding wallets,
// sellers, creators, and the protocol treasury. The settlement engine
// stages entity writes itself but delegates every value transfer here.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bridgesplit/listings/internal/safe"
)

var (
	ErrInsufficientFunds = errors.New("payments: insufficient funds")
	ErrUnknownAccount    = errors.New("payments: unknown account")
)

// Ledger is the payment-asset transfer primitive. External collaborator;
// a deployment backs it with the settlement rail of the payment asset.
type Ledger interface {
	Balance(ctx context.Context, account string) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// MemoryLedger implements Ledger over in-memory balances.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]uint64)}
}

// Mint credits account out of thin air. Test and bootstrap helper.
func (l *MemoryLedger) Mint(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op so fee-less settlements need no special casing upstream.
func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal, err := safe.Sub(l.balances[from], amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, l.balances[from], amount)
	}
	toBal, err := safe.Add(l.balances[to], amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	l.balances[from] = fromBal
	l.balances[to] = toBal
	return nil
}
