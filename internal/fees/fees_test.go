package fees

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgesplit/listings/internal/custody"
)

func TestEnabled(t *testing.T) {
	assert.True(t, Enabled(true, true))
	assert.False(t, Enabled(true, false))
	assert.False(t, Enabled(false, true))
	assert.False(t, Enabled(false, false))
}

func TestComputeProtocolFeeFloors(t *testing.T) {
	cfg := Config{FeeBps: 250, Treasury: "treasury"}

	b, err := Compute(10_000, true, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), b.ProtocolFee)
	assert.Equal(t, uint64(9_750), b.SellerCredit)

	// 999 × 250 / 10000 = 24.975 → 24
	b, err = Compute(999, true, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(24), b.ProtocolFee)
	assert.Equal(t, uint64(975), b.SellerCredit)
}

func TestComputeFeeDisabled(t *testing.T) {
	b, err := Compute(10_000, false, Config{FeeBps: 250}, nil)
	require.NoError(t, err)
	assert.Zero(t, b.ProtocolFee)
	assert.Equal(t, uint64(10_000), b.SellerCredit)
}

func TestComputeRoyaltySamePriceBase(t *testing.T) {
	asset := &custody.AssetInfo{
		ID:         "asset-1",
		RoyaltyBps: 500,
		Creators:   []custody.CreatorShare{{Address: "c1", ShareBps: 10_000}},
	}

	b, err := Compute(10_000, true, Config{FeeBps: 250}, asset)
	require.NoError(t, err)

	// Fee and royalty are each taken from the order price, not from the
	// other's remainder.
	assert.Equal(t, uint64(250), b.ProtocolFee)
	assert.Equal(t, uint64(500), b.RoyaltyTotal)
	assert.Equal(t, uint64(9_250), b.SellerCredit)
	assert.Equal(t, b.Price, b.SellerCredit+b.ProtocolFee+b.RoyaltyTotal)
}

func TestComputeRoyaltyAppliesWhenFeeOff(t *testing.T) {
	asset := &custody.AssetInfo{
		ID:         "asset-1",
		RoyaltyBps: 1_000,
		Creators:   []custody.CreatorShare{{Address: "c1", ShareBps: 10_000}},
	}

	b, err := Compute(5_000, false, Config{FeeBps: 250}, asset)
	require.NoError(t, err)
	assert.Zero(t, b.ProtocolFee)
	assert.Equal(t, uint64(500), b.RoyaltyTotal)
	assert.Equal(t, uint64(4_500), b.SellerCredit)
}

func TestSplitRoyaltyRemainderToFirstCreator(t *testing.T) {
	asset := &custody.AssetInfo{
		ID:         "asset-1",
		RoyaltyBps: 1_000,
		Creators: []custody.CreatorShare{
			{Address: "c1", ShareBps: 3_333},
			{Address: "c2", ShareBps: 3_333},
			{Address: "c3", ShareBps: 3_334},
		},
	}

	b, err := Compute(10_010, false, Config{}, asset)
	require.NoError(t, err)

	// royalty total = floor(10010 × 0.10) = 1001
	require.Equal(t, uint64(1_001), b.RoyaltyTotal)
	require.Len(t, b.Royalties, 3)

	var sum uint64
	for _, p := range b.Royalties {
		sum += p.Amount
	}
	assert.Equal(t, b.RoyaltyTotal, sum, "shares plus remainder cover the total exactly")
	assert.GreaterOrEqual(t, b.Royalties[0].Amount, b.Royalties[1].Amount)
}

func TestComputeRejectsOverfullShares(t *testing.T) {
	asset := &custody.AssetInfo{
		ID:         "asset-1",
		RoyaltyBps: 1_000,
		Creators: []custody.CreatorShare{
			{Address: "c1", ShareBps: 100},
			{Address: "c2", ShareBps: 10_000},
			{Address: "c3", ShareBps: 10_000},
		},
	}

	// Shares past 100% must fail cleanly, never hand the first creator
	// an underflowed remainder.
	_, err := Compute(10_000, true, Config{FeeBps: 250}, asset)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creator shares")
}

func TestComputeConservation(t *testing.T) {
	asset := &custody.AssetInfo{
		ID:         "asset-1",
		RoyaltyBps: 750,
		Creators: []custody.CreatorShare{
			{Address: "c1", ShareBps: 6_000},
			{Address: "c2", ShareBps: 4_000},
		},
	}
	cfg := Config{FeeBps: 199}

	for _, price := range []uint64{1, 99, 10_000, 123_456_789, 1_000_000_000_000} {
		b, err := Compute(price, true, cfg, asset)
		require.NoError(t, err)
		assert.Equal(t, price, b.SellerCredit+b.ProtocolFee+b.RoyaltyTotal, "price %d", price)
	}
}

func TestComputeLargePriceNoOverflow(t *testing.T) {
	// A price near the uint64 ceiling must not overflow the bps product.
	price := uint64(1<<63 + 12345)
	b, err := Compute(price, true, Config{FeeBps: 10_000}, nil)
	require.NoError(t, err)
	assert.Equal(t, price, b.ProtocolFee)
	assert.Zero(t, b.SellerCredit)
}

func TestStaticOracle(t *testing.T) {
	cfg, err := StaticOracle{Cfg: Config{FeeBps: 250, Treasury: "t"}}.Schedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(250), cfg.FeeBps)

	_, err = StaticOracle{Cfg: Config{FeeBps: 10_001}}.Schedule(context.Background())
	assert.Error(t, err)
}
