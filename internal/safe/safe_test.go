package safe_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgesplit/listings/internal/safe"
)

func TestAdd(t *testing.T) {
	v, err := safe.Add(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	_, err = safe.Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, safe.ErrOverflow)

	v, err = safe.Add(math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), v)
}

func TestSub(t *testing.T) {
	v, err := safe.Sub(5, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	_, err = safe.Sub(3, 5)
	assert.ErrorIs(t, err, safe.ErrUnderflow)

	v, err = safe.Sub(3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}

func TestMul(t *testing.T) {
	v, err := safe.Mul(100, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(25000), v)

	_, err = safe.Mul(math.MaxUint64, 2)
	assert.ErrorIs(t, err, safe.ErrOverflow)

	v, err = safe.Mul(math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = safe.Mul(0, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}
