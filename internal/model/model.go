// Package model defines the core domain records of the listings engine.
// All amounts are integer base units of the market's payment asset —
// never float64 for money.
package model

// Record versions. Bumped when the stored shape of an entity changes.
const (
	MarketVersion  uint8 = 1
	OrderVersion   uint8 = 1
	WalletVersion  uint8 = 1
	TrackerVersion uint8 = 1
)

// MarketState is the open/closed gate for a trading venue.
type MarketState string

const (
	MarketOpen   MarketState = "open"
	MarketClosed MarketState = "closed"
)

// Market is a trading venue scoped to one payment-asset type. Its address
// is derived solely from the payment asset, so there is exactly one market
// per payment asset.
type Market struct {
	Version      uint8       `json:"version" db:"version"`
	Address      string      `json:"address" db:"address"`
	PaymentAsset string      `json:"payment_asset" db:"payment_asset"`
	Initializer  string      `json:"initializer" db:"initializer"`
	State        MarketState `json:"state" db:"state"`
}

// IsActive reports whether the market still accepts new exposure.
// Existing orders may be decreased, closed, or filled after the market
// closes; only creation and increases are gated.
func (m *Market) IsActive() bool {
	return m.State != MarketClosed
}

// OrderSide is the side of a prospective trade. Compressed sides carry the
// same settlement semantics but move the asset through proof-carrying
// operations instead of record mutation.
type OrderSide string

const (
	SideBuy            OrderSide = "buy"
	SideSell           OrderSide = "sell"
	SideCompressedBuy  OrderSide = "compressed_buy"
	SideCompressedSell OrderSide = "compressed_sell"
)

// IsSell reports whether the side holds an asset in escrow.
func (s OrderSide) IsSell() bool {
	return s == SideSell || s == SideCompressedSell
}

// IsCompressed reports whether the side settles through Merkle proofs.
func (s OrderSide) IsCompressed() bool {
	return s == SideCompressedBuy || s == SideCompressedSell
}

// OrderState tracks an order's lifecycle.
type OrderState string

const (
	// OrderReady — created, full size available.
	OrderReady OrderState = "ready"
	// OrderPartial — some but not all units filled or edited down.
	OrderPartial OrderState = "partial"
	// OrderClosed — terminal; storage reclaimed to the owner.
	OrderClosed OrderState = "closed"
)

// Order is one side of a prospective trade. The address is derived from
// (nonce, market, owner), so one owner may hold many concurrent orders by
// varying the nonce.
type Order struct {
	Version   uint8      `json:"version" db:"version"`
	Address   string     `json:"address" db:"address"`
	Nonce     string     `json:"nonce" db:"nonce"`
	Market    string     `json:"market" db:"market"`
	Owner     string     `json:"owner" db:"owner"`
	Wallet    string     `json:"wallet" db:"wallet"` // custodian bidding wallet
	Side      OrderSide  `json:"side" db:"side"`
	Size      uint64     `json:"size" db:"size"`   // remaining unit count
	Price     uint64     `json:"price" db:"price"` // per-unit payment amount
	State     OrderState `json:"state" db:"state"`
	AssetID   string     `json:"asset_id,omitempty" db:"asset_id"` // traded asset, sell side
	FeesOn    bool       `json:"fees_on" db:"fees_on"`
	CreatedAt int64      `json:"created_at" db:"created_at"` // unix seconds
	EditedAt  int64      `json:"edited_at" db:"edited_at"`
}

// IsActive reports whether the order can still be filled or edited down.
func (o *Order) IsActive() bool {
	return o.State != OrderClosed
}

// SpillOver reports whether a matched buy order pays more than the sell
// order asks; the difference is refunded to the buyer, never paid to the
// seller.
func SpillOver(buyPrice, sellPrice uint64) bool {
	return buyPrice > sellPrice
}

// EditDirection distinguishes increasing from decreasing edits.
type EditDirection string

const (
	Increase EditDirection = "increase"
	Decrease EditDirection = "decrease"
)

// IsIncrease reports whether the edit adds exposure.
func (d EditDirection) IsIncrease() bool {
	return d == Increase
}

// ValidEditDirection rejects increasing edits against a closed order or
// market; decreases are always allowed so positions can unwind.
func ValidEditDirection(d EditDirection, active bool) bool {
	return active || !d.IsIncrease()
}

// ApplyEdit moves the order to its post-edit size and price and derives the
// resulting state: size 0 closes the order, any other size change marks it
// partial.
func (o *Order) ApplyEdit(price, size uint64, now int64) {
	o.Price = price
	o.Size = size
	o.EditedAt = now
	if size == 0 {
		o.State = OrderClosed
	} else {
		o.State = OrderPartial
	}
}

// Wallet is a payment-asset escrow pool backing one owner's buy-side
// activity. Its address is derived from the owner alone: one wallet per
// owner. It persists at zero balance and is never deleted.
type Wallet struct {
	Version    uint8  `json:"version" db:"version"`
	Address    string `json:"address" db:"address"`
	Owner      string `json:"owner" db:"owner"`
	Balance    uint64 `json:"balance" db:"balance"`
	ActiveBids uint64 `json:"active_bids" db:"active_bids"`
}

// Tracker marks that a specific traded-asset unit is locked in escrow for a
// sell order. Its address is derived from the asset alone, so at most one
// escrow can exist for an asset at a time — a second listing of the same
// asset collides on the tracker address.
type Tracker struct {
	Version uint8  `json:"version" db:"version"`
	Address string `json:"address" db:"address"`
	Market  string `json:"market" db:"market"`
	Order   string `json:"order" db:"order"`
	Owner   string `json:"owner" db:"owner"`
	AssetID string `json:"asset_id" db:"asset_id"`
}
