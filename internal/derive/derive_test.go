package derive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgesplit/listings/internal/derive"
)

func TestAddress_Deterministic(t *testing.T) {
	a1, err := derive.Address("market", "usdc")
	require.NoError(t, err)
	a2, err := derive.Address("market", "usdc")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Len(t, a1, 64)
}

func TestAddress_NamespaceSeparation(t *testing.T) {
	m, err := derive.Address("market", "usdc")
	require.NoError(t, err)
	w, err := derive.Address("wallet", "usdc")
	require.NoError(t, err)
	assert.NotEqual(t, m, w)
}

func TestAddress_NoBoundaryCollision(t *testing.T) {
	// Length-prefixed fields: ("ab","c") must differ from ("a","bc").
	a, err := derive.Address("order", "ab", "c")
	require.NoError(t, err)
	b, err := derive.Address("order", "a", "bc")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAddress_EmptyFieldRejected(t *testing.T) {
	_, err := derive.Address("order", "nonce", "")
	assert.ErrorIs(t, err, derive.ErrEmptyField)

	_, err = derive.Address("")
	assert.ErrorIs(t, err, derive.ErrEmptyField)
}

func TestOrder_VariesByNonce(t *testing.T) {
	a, err := derive.Order("nonce-1", "mkt", "alice")
	require.NoError(t, err)
	b, err := derive.Order("nonce-2", "mkt", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTracker_OnePerAsset(t *testing.T) {
	a, err := derive.Tracker("asset-x")
	require.NoError(t, err)
	b, err := derive.Tracker("asset-x")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
