package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/derive"
	"github.com/bridgesplit/listings/internal/fees"
	"github.com/bridgesplit/listings/internal/model"
	"github.com/bridgesplit/listings/internal/payments"
	"github.com/bridgesplit/listings/internal/store"
)

const (
	treasury = "protocol-treasury"
	feeBps   = 250 // 2.5%
)

type testEnv struct {
	svc    *Service
	st     *store.MemoryStore
	reg    *custody.MemoryRegistry
	tokens *custody.MemoryLedger
	tree   *custody.MemoryTree
	pay    *payments.MemoryLedger
}

// marketAddr derives the market address for a payment asset.
func marketAddr(t *testing.T, paymentAsset string) string {
	t.Helper()
	addr, err := derive.Market(paymentAsset)
	require.NoError(t, err)
	return addr
}

// trackerAddr derives the tracker address guarding an asset's escrow.
func trackerAddr(t *testing.T, assetID string) string {
	t.Helper()
	addr, err := derive.Tracker(assetID)
	require.NoError(t, err)
	return addr
}

// tracker looks up the tracker record guarding an asset's escrow.
func (env *testEnv) tracker(t *testing.T, assetID string) error {
	t.Helper()
	_, err := env.st.GetTracker(context.Background(), trackerAddr(t, assetID))
	return err
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		st:     store.NewMemoryStore(),
		reg:    custody.NewMemoryRegistry(),
		tokens: custody.NewMemoryLedger(),
		tree:   custody.NewMemoryTree(),
		pay:    payments.NewMemoryLedger(),
	}
	custodian := custody.NewCustodian(env.reg, env.tokens, env.tree)
	oracle := fees.StaticOracle{Cfg: fees.Config{FeesOn: true, FeeBps: feeBps, Treasury: treasury}}
	env.svc = NewService(env.st, custodian, env.pay, oracle,
		WithClock(func() int64 { return 1_700_000_000 }),
	)
	return env
}

// openMarket creates a market for the given payment asset.
func (env *testEnv) openMarket(t *testing.T, initializer, paymentAsset string) *model.Market {
	t.Helper()
	m, err := env.svc.InitMarket(context.Background(), initializer, paymentAsset)
	require.NoError(t, err)
	return m
}

// fundWallet mints external funds for owner and moves them into a fresh
// bidding wallet.
func (env *testEnv) fundWallet(t *testing.T, owner string, amount uint64) *model.Wallet {
	t.Helper()
	env.pay.Mint(owner, amount)
	w, err := env.svc.InitWallet(context.Background(), owner, amount)
	require.NoError(t, err)
	return w
}

// mintDirect registers and mints a plainly transferable asset for owner.
func (env *testEnv) mintDirect(t *testing.T, assetID, owner string) {
	t.Helper()
	env.reg.Register(custody.AssetInfo{ID: assetID, Policy: custody.PolicyDirect})
	env.tokens.Mint(assetID, owner)
}

func (env *testEnv) balance(t *testing.T, account string) uint64 {
	t.Helper()
	b, err := env.pay.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func TestMarketLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m := env.openMarket(t, "admin", "usdc")
	assert.Equal(t, model.MarketOpen, m.State)
	assert.Equal(t, marketAddr(t, "usdc"), m.Address)

	_, err := env.svc.InitMarket(ctx, "admin", "usdc")
	assert.Equal(t, KindInvalidParameters, KindOf(err), "one market per payment asset")

	err = env.svc.CloseMarket(ctx, "mallory", m.Address)
	assert.Equal(t, KindAuthorization, KindOf(err))

	require.NoError(t, env.svc.CloseMarket(ctx, "admin", m.Address))

	err = env.svc.CloseMarket(ctx, "admin", m.Address)
	assert.Equal(t, KindState, KindOf(err), "second close is a state error")
}

func TestEditMarketRekeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m := env.openMarket(t, "admin", "usdc")

	next, err := env.svc.EditMarket(ctx, "admin", m.Address, "usdt")
	require.NoError(t, err)
	assert.Equal(t, marketAddr(t, "usdt"), next.Address)
	assert.Equal(t, model.MarketOpen, next.State)

	old, err := env.svc.Market(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, model.MarketClosed, old.State)
}

func TestWalletDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	w := env.fundWallet(t, "bob", 150)
	assert.Equal(t, uint64(150), w.Balance)
	assert.Equal(t, uint64(150), env.balance(t, w.Address))
	assert.Zero(t, env.balance(t, "bob"))

	w, err := env.svc.EditWallet(ctx, "bob", 50, model.Decrease)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), w.Balance)
	assert.Equal(t, uint64(50), env.balance(t, "bob"))

	_, err = env.svc.EditWallet(ctx, "bob", 101, model.Decrease)
	assert.Equal(t, KindInsufficientBalance, KindOf(err))

	env.pay.Mint("bob", 25)
	w, err = env.svc.EditWallet(ctx, "bob", 25, model.Increase)
	require.NoError(t, err)
	assert.Equal(t, uint64(125), w.Balance)
}

func TestWithdrawBlockedByReservation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m := env.openMarket(t, "admin", "usdc")
	env.fundWallet(t, "bob", 150)

	_, err := env.svc.InitBuyOrder(ctx, "bob", m.Address, "n1", 100, 1, true)
	require.NoError(t, err)

	// 50 is free, 100 is reserved by the open bid.
	_, err = env.svc.EditWallet(ctx, "bob", 60, model.Decrease)
	assert.Equal(t, KindInsufficientBalance, KindOf(err))

	_, err = env.svc.EditWallet(ctx, "bob", 50, model.Decrease)
	require.NoError(t, err)
}

// Scenarios A through E: the full listing lifecycle against one market.
func TestListingLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	// A: the seller lists asset X at 100.
	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)
	assert.Equal(t, model.OrderReady, sell.State)
	assert.Equal(t, uint64(1), sell.Size)
	require.NoError(t, env.tracker(t, "asset-x"), "tracker created")

	// B: a buyer with 150 bids 100 for one unit.
	env.fundWallet(t, "bob", 150)
	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "2", 100, 1, true)
	require.NoError(t, err)
	w, err := env.svc.WalletFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), w.ActiveBids)
	assert.Equal(t, uint64(150), w.Balance)

	// C: the pair settles. Order closed, tracker destroyed, asset with
	// the buyer, seller credited price minus fee.
	buyAfter, sellAfter, err := env.svc.FillOrder(ctx, "bob", buy.Address, sell.Address, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, sellAfter.State)
	assert.Equal(t, model.OrderClosed, buyAfter.State)

	assert.ErrorIs(t, env.tracker(t, "asset-x"), store.ErrNotFound, "tracker destroyed")

	owner, err := env.tokens.OwnerOf(ctx, "asset-x")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	fee := uint64(100 * feeBps / 10_000)
	assert.Equal(t, 100-fee, env.balance(t, "alice"))
	assert.Equal(t, fee, env.balance(t, treasury))

	w, err = env.svc.WalletFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), w.Balance)
	assert.Zero(t, w.ActiveBids)

	// D: closing the settled sell order again fails.
	_, err = env.svc.CloseOrder(ctx, "alice", sell.Address, nil)
	assert.Equal(t, KindState, KindOf(err))
}

// Scenario E: a bid edited to size zero closes without settlement.
func TestEditBuyOrderToZeroCloses(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m := env.openMarket(t, "admin", "usdc")
	env.fundWallet(t, "bob", 150)

	order, err := env.svc.InitBuyOrder(ctx, "bob", m.Address, "n1", 100, 1, true)
	require.NoError(t, err)

	order, err = env.svc.EditBuyOrder(ctx, "bob", order.Address, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, order.State)

	w, err := env.svc.WalletFor(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, w.ActiveBids)
	assert.Equal(t, uint64(150), w.Balance, "no settlement occurred")
}

func TestSpillOverRefund(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	env.fundWallet(t, "bob", 150)
	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "2", 150, 1, true)
	require.NoError(t, err)

	_, _, err = env.svc.FillOrder(ctx, "bob", buy.Address, sell.Address, nil)
	require.NoError(t, err)

	// Execution at the listing price: the 50 overbid returns to the
	// buyer and the seller never sees it.
	fee := uint64(100 * feeBps / 10_000)
	assert.Equal(t, 100-fee, env.balance(t, "alice"))
	assert.Equal(t, uint64(50), env.balance(t, "bob"))

	w, err := env.svc.WalletFor(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, w.Balance)
}

func TestFillConservation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.reg.Register(custody.AssetInfo{
		ID:         "asset-r",
		Policy:     custody.PolicyDirect,
		RoyaltyBps: 500,
		Creators: []custody.CreatorShare{
			{Address: "creator-1", ShareBps: 7_000},
			{Address: "creator-2", ShareBps: 3_000},
		},
	})
	env.tokens.Mint("asset-r", "alice")

	const price = 9_999
	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", price, "asset-r", nil, true)
	require.NoError(t, err)

	env.pay.Mint("bob", price)
	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, nil)
	require.NoError(t, err)

	got := env.balance(t, "alice") + env.balance(t, treasury) +
		env.balance(t, "creator-1") + env.balance(t, "creator-2")
	assert.Equal(t, uint64(price), got, "no value created or destroyed")
	assert.Zero(t, env.balance(t, "bob"))
}

func TestFeeFlagConjunction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	// Order opts out of fees even though the schedule has them on.
	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, false)
	require.NoError(t, err)

	env.pay.Mint("bob", 100)
	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), env.balance(t, "alice"))
	assert.Zero(t, env.balance(t, treasury))
}

func TestDoubleListingRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	_, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	_, err = env.svc.InitSellOrder(ctx, "alice", market.Address, "2", 120, "asset-x", nil, true)
	assert.Equal(t, KindCustody, KindOf(err), "one tracker per asset")
}

func TestFillBuyOrderDirectSale(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-y", "alice")

	env.fundWallet(t, "bob", 300)
	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "n1", 100, 2, true)
	require.NoError(t, err)

	// The seller delivers straight into the bid.
	buyAfter, err := env.svc.FillBuyOrder(ctx, "alice", buy.Address, "asset-y", nil)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPartial, buyAfter.State)
	assert.Equal(t, uint64(1), buyAfter.Size)

	owner, err := env.tokens.OwnerOf(ctx, "asset-y")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	fee := uint64(100 * feeBps / 10_000)
	assert.Equal(t, 100-fee, env.balance(t, "alice"))

	w, err := env.svc.WalletFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), w.Balance)
	assert.Equal(t, uint64(1), w.ActiveBids)
}

func TestFillBuyOrderRejectsEscrowedAsset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	_, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	env.fundWallet(t, "bob", 100)
	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "2", 100, 1, true)
	require.NoError(t, err)

	_, err = env.svc.FillBuyOrder(ctx, "alice", buy.Address, "asset-x", nil)
	assert.Equal(t, KindCustody, KindOf(err), "escrowed assets settle through their listing")
}

func TestFillInsufficientWalletBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-y", "alice")

	env.fundWallet(t, "bob", 150)
	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "n1", 100, 1, true)
	require.NoError(t, err)

	// Drain the free part of the wallet, then raise the bid so the new
	// reservation exceeds what the wallet holds.
	_, err = env.svc.EditWallet(ctx, "bob", 50, model.Decrease)
	require.NoError(t, err)

	_, err = env.svc.EditBuyOrder(ctx, "bob", buy.Address, 120, 1)
	assert.Equal(t, KindInsufficientBalance, KindOf(err))
}

func TestEditOrderDecreaseRepriceChecksWallet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.fundWallet(t, "bob", 150)

	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "n1", 70, 2, true)
	require.NoError(t, err)

	// Shrinking size while raising the price can still push the
	// reservation past the wallet; the generic edit must catch it.
	_, err = env.svc.EditOrder(ctx, "bob", buy.Address, 200, 1, model.Decrease, nil)
	assert.Equal(t, KindInsufficientBalance, KindOf(err))

	_, err = env.svc.EditOrder(ctx, "bob", buy.Address, 75, 1, model.Decrease, nil)
	require.NoError(t, err)
}

func TestOverfullRoyaltySharesRejectFill(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.reg.Register(custody.AssetInfo{
		ID:         "asset-bad",
		Policy:     custody.PolicyDirect,
		RoyaltyBps: 500,
		Creators: []custody.CreatorShare{
			{Address: "c1", ShareBps: 10_000},
			{Address: "c2", ShareBps: 10_000},
		},
	})
	env.tokens.Mint("asset-bad", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-bad", nil, true)
	require.NoError(t, err)

	env.pay.Mint("bob", 100)
	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, nil)
	assert.Equal(t, KindInvalidParameters, KindOf(err))

	// The rejection lands before any custody or payment movement.
	owner, err := env.tokens.OwnerOf(ctx, "asset-bad")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	require.NoError(t, env.tracker(t, "asset-bad"), "escrow intact")
	assert.Equal(t, uint64(100), env.balance(t, "bob"))
}

func TestRestrictedListingLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.reg.Register(custody.AssetInfo{ID: "asset-r", Policy: custody.PolicyRestricted, RuleSet: "rules-1"})
	env.tokens.Mint("asset-r", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-r", nil, true)
	require.NoError(t, err)

	// The frozen asset cannot leave escrow behind the engine's back.
	err = env.tokens.Transfer(ctx, "asset-r", "alice", "carol")
	assert.ErrorIs(t, err, custody.ErrAssetFrozen)

	env.pay.Mint("bob", 100)

	// Missing delegate-record proofs abort before any custody change.
	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, nil)
	assert.Equal(t, KindInvalidParameters, KindOf(err))
	err = env.tokens.Transfer(ctx, "asset-r", "alice", "carol")
	assert.ErrorIs(t, err, custody.ErrAssetFrozen, "escrow untouched after aborted fill")

	proof := &custody.Proof{OwnerRecord: "rec-a", DestRecord: "rec-b", AuthRules: "rules-1"}
	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, proof)
	require.NoError(t, err)

	owner, err := env.tokens.OwnerOf(ctx, "asset-r")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}

func TestCompressedListingLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.reg.Register(custody.AssetInfo{ID: "leaf-1", Policy: custody.PolicyCompressed})
	env.tree.Append("leaf-1", "alice", "dh-1", "ch-1")

	// Proof is mandatory at listing time.
	_, err := env.svc.CompressedInitSellOrder(ctx, "alice", market.Address, "1", 100, "leaf-1", nil, true)
	assert.Equal(t, KindInvalidParameters, KindOf(err))

	lp, err := env.tree.ProofFor("leaf-1")
	require.NoError(t, err)
	sell, err := env.svc.CompressedInitSellOrder(ctx, "alice", market.Address, "1", 100, "leaf-1",
		&custody.Proof{Root: lp.Root, DataHash: lp.DataHash, CreatorHash: lp.CreatorHash, LeafIndex: lp.LeafIndex}, true)
	require.NoError(t, err)
	assert.Equal(t, model.SideCompressedSell, sell.Side)

	owner, err := env.tree.LeafOwner(ctx, "leaf-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowAuthority, owner, "leaf parented to escrow")

	// The init move changed the root, so the fill needs a fresh proof.
	env.pay.Mint("bob", 100)
	lp, err = env.tree.ProofFor("leaf-1")
	require.NoError(t, err)
	_, err = env.svc.CompressedFillSellOrder(ctx, "bob", sell.Address,
		&custody.Proof{Root: lp.Root, DataHash: lp.DataHash, CreatorHash: lp.CreatorHash, LeafIndex: lp.LeafIndex})
	require.NoError(t, err)

	owner, err = env.tree.LeafOwner(ctx, "leaf-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	fee := uint64(100 * feeBps / 10_000)
	assert.Equal(t, 100-fee, env.balance(t, "alice"))
}

func TestCompressedBuyOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.reg.Register(custody.AssetInfo{ID: "leaf-1", Policy: custody.PolicyCompressed})
	env.tree.Append("leaf-1", "alice", "dh-1", "ch-1")

	env.fundWallet(t, "bob", 150)
	buy, err := env.svc.CompressedInitBuyOrder(ctx, "bob", market.Address, "n1", 100, 1, true)
	require.NoError(t, err)
	assert.Equal(t, model.SideCompressedBuy, buy.Side)

	// The seller delivers the leaf into the bid under a fresh proof.
	_, err = env.svc.CompressedFillBuyOrder(ctx, "alice", buy.Address, "leaf-1", nil)
	assert.Equal(t, KindInvalidParameters, KindOf(err), "proof mandatory")

	lp, err := env.tree.ProofFor("leaf-1")
	require.NoError(t, err)
	filled, err := env.svc.CompressedFillBuyOrder(ctx, "alice", buy.Address, "leaf-1",
		&custody.Proof{Root: lp.Root, DataHash: lp.DataHash, CreatorHash: lp.CreatorHash, LeafIndex: lp.LeafIndex})
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, filled.State)

	owner, err := env.tree.LeafOwner(ctx, "leaf-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	fee := uint64(100 * feeBps / 10_000)
	assert.Equal(t, 100-fee, env.balance(t, "alice"))
}

func TestCompressedCloseReturnsLeaf(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.reg.Register(custody.AssetInfo{ID: "leaf-1", Policy: custody.PolicyCompressed})
	env.tree.Append("leaf-1", "alice", "dh-1", "ch-1")

	lp, err := env.tree.ProofFor("leaf-1")
	require.NoError(t, err)
	sell, err := env.svc.CompressedInitSellOrder(ctx, "alice", market.Address, "1", 100, "leaf-1",
		&custody.Proof{Root: lp.Root, DataHash: lp.DataHash, CreatorHash: lp.CreatorHash, LeafIndex: lp.LeafIndex}, true)
	require.NoError(t, err)

	lp, err = env.tree.ProofFor("leaf-1")
	require.NoError(t, err)
	closed, err := env.svc.CompressedCloseSellOrder(ctx, "alice", sell.Address,
		&custody.Proof{Root: lp.Root, DataHash: lp.DataHash, CreatorHash: lp.CreatorHash, LeafIndex: lp.LeafIndex})
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, closed.State)

	owner, err := env.tree.LeafOwner(ctx, "leaf-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	assert.ErrorIs(t, env.tracker(t, "leaf-1"), store.ErrNotFound)
}

func TestCloseSellOrderReleasesCustody(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	_, err = env.svc.CloseSellOrder(ctx, "mallory", sell.Address, nil)
	assert.Equal(t, KindAuthorization, KindOf(err))

	closed, err := env.svc.CloseSellOrder(ctx, "alice", sell.Address, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, closed.State)

	// The owner regains control and can list again.
	require.NoError(t, env.tokens.Transfer(ctx, "asset-x", "alice", "alice"))
	_, err = env.svc.InitSellOrder(ctx, "alice", market.Address, "2", 90, "asset-x", nil, true)
	require.NoError(t, err)
}

func TestGenericEditOrderSellToZero(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	edited, err := env.svc.EditOrder(ctx, "alice", sell.Address, 100, 1, model.Decrease, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, edited.State)

	assert.ErrorIs(t, env.tracker(t, "asset-x"), store.ErrNotFound, "escrow released on decrease to zero")

	// Increases are rejected once the order has closed.
	_, err = env.svc.EditOrder(ctx, "alice", sell.Address, 100, 1, model.Increase, nil)
	assert.Equal(t, KindState, KindOf(err))
}

func TestMarketClosedBlocksNewExposure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")
	env.fundWallet(t, "bob", 300)

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)
	buy, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "2", 100, 1, true)
	require.NoError(t, err)

	require.NoError(t, env.svc.CloseMarket(ctx, "admin", market.Address))

	_, err = env.svc.InitBuyOrder(ctx, "bob", market.Address, "3", 100, 1, true)
	assert.Equal(t, KindState, KindOf(err))
	_, err = env.svc.EditOrder(ctx, "bob", buy.Address, 100, 1, model.Increase, nil)
	assert.Equal(t, KindState, KindOf(err))

	// Unwind still works: fills and closes proceed after the gate drops.
	_, err = env.svc.CloseOrder(ctx, "bob", buy.Address, nil)
	require.NoError(t, err)
	_, err = env.svc.CloseOrder(ctx, "alice", sell.Address, nil)
	require.NoError(t, err)
}

func TestFillClosedOrderAlreadySettled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	env.pay.Mint("bob", 200)
	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, nil)
	require.NoError(t, err)

	_, err = env.svc.FillSellOrder(ctx, "bob", sell.Address, nil)
	assert.Equal(t, KindAlreadySettled, KindOf(err))
}

func TestReclaimOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.fundWallet(t, "bob", 100)

	order, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "n1", 100, 1, true)
	require.NoError(t, err)

	err = env.svc.ReclaimOrder(ctx, "bob", order.Address)
	assert.Equal(t, KindState, KindOf(err), "open orders cannot be reclaimed")

	_, err = env.svc.CloseOrder(ctx, "bob", order.Address, nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.ReclaimOrder(ctx, "bob", order.Address))
	_, err = env.svc.Order(ctx, order.Address)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestWalletRequiredForBid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")

	_, err := env.svc.InitBuyOrder(ctx, "bob", market.Address, "n1", 100, 1, true)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestEditSellOrderReprices(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	market := env.openMarket(t, "admin", "sol")
	env.mintDirect(t, "asset-x", "alice")

	sell, err := env.svc.InitSellOrder(ctx, "alice", market.Address, "1", 100, "asset-x", nil, true)
	require.NoError(t, err)

	edited, err := env.svc.EditSellOrder(ctx, "alice", sell.Address, 120)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), edited.Price)
	assert.Equal(t, uint64(1), edited.Size)

	_, err = env.svc.EditSellOrder(ctx, "mallory", sell.Address, 90)
	assert.Equal(t, KindAuthorization, KindOf(err))
}
