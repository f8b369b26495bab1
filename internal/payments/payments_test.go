package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Mint("alice", 100)

	require.NoError(t, l.Transfer(ctx, "alice", "bob", 60))

	a, _ := l.Balance(ctx, "alice")
	b, _ := l.Balance(ctx, "bob")
	assert.Equal(t, uint64(40), a)
	assert.Equal(t, uint64(60), b)
}

func TestTransferInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Mint("alice", 10)

	err := l.Transfer(ctx, "alice", "bob", 11)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved.
	a, _ := l.Balance(ctx, "alice")
	b, _ := l.Balance(ctx, "bob")
	assert.Equal(t, uint64(10), a)
	assert.Zero(t, b)
}

func TestTransferZeroIsNoOp(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	// Zero from a nonexistent account still succeeds.
	require.NoError(t, l.Transfer(ctx, "ghost", "bob", 0))
}
