// Package events is the post-commit side channel of the settlement
// engine. Every successfully applied operation publishes one event, which
// the hub fans out to WebSocket subscribers (indexers, webhooks, UIs).
// Events are advisory: the store is the source of truth and a dropped
// event is never an error.
package events

import (
	"github.com/google/uuid"
)

// Type identifies what an event describes.
type Type string

const (
	TypeMarketInitialized Type = "market_initialized"
	TypeMarketEdited      Type = "market_edited"
	TypeMarketClosed      Type = "market_closed"
	TypeWalletInitialized Type = "wallet_initialized"
	TypeWalletEdited      Type = "wallet_edited"
	TypeOrderInitialized  Type = "order_initialized"
	TypeOrderEdited       Type = "order_edited"
	TypeOrderFilled       Type = "order_filled"
	TypeOrderClosed       Type = "order_closed"
	TypeOrderReclaimed    Type = "order_reclaimed"
)

// Event is one settlement occurrence. Only the fields relevant to the
// type are populated.
type Event struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	At      int64  `json:"at"` // unix seconds
	Market  string `json:"market,omitempty"`
	Order   string `json:"order,omitempty"`
	Wallet  string `json:"wallet,omitempty"`
	Owner   string `json:"owner,omitempty"`
	AssetID string `json:"asset_id,omitempty"`
	Price   uint64 `json:"price,omitempty"`
	Size    uint64 `json:"size,omitempty"`

	// Fill-only value breakdown.
	Fee          uint64 `json:"fee,omitempty"`
	RoyaltyTotal uint64 `json:"royalty_total,omitempty"`
	SellerCredit uint64 `json:"seller_credit,omitempty"`
	SpillOver    uint64 `json:"spill_over,omitempty"`
}

// New returns an Event with a fresh ID and timestamp.
func New(t Type, at int64) Event {
	return Event{ID: uuid.NewString(), Type: t, At: at}
}

// Publisher receives events after commit. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
