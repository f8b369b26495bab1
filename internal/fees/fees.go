// Package fees computes the protocol-fee and creator-royalty breakdown
// of a fill. Both charges are basis-point fractions of the order price,
// rounded down, and both come out of the seller's side: the conservation
// rule is seller_credit + protocol_fee + royalty_total == price.
package fees

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/safe"
)

// BpsDenominator is the basis-point base: 10_000 bps = 100%.
const BpsDenominator = 10_000

// Config is the protocol fee schedule an Oracle resolves. FeesOn is the
// global fee switch; individual orders carry their own flag and the fee
// applies only when both agree.
type Config struct {
	FeesOn   bool   `json:"fees_on"`
	FeeBps   uint64 `json:"fee_bps"`
	Treasury string `json:"treasury"`
}

// Oracle supplies the current fee schedule. External collaborator; a
// deployment may back it with a config service or governance state.
type Oracle interface {
	Schedule(ctx context.Context) (Config, error)
}

// StaticOracle returns a fixed schedule.
type StaticOracle struct {
	Cfg Config
}

func (o StaticOracle) Schedule(context.Context) (Config, error) {
	if o.Cfg.FeeBps > BpsDenominator {
		return Config{}, fmt.Errorf("fee rate %d bps exceeds %d", o.Cfg.FeeBps, BpsDenominator)
	}
	return o.Cfg, nil
}

// Enabled reports whether a fill owes the protocol fee: the schedule's
// global switch and the order's own flag must both be set.
func Enabled(scheduleFeesOn, orderFeesOn bool) bool {
	return scheduleFeesOn && orderFeesOn
}

// Payout is one recipient's slice of a fill's proceeds.
type Payout struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// Breakdown is the full value split of one filled unit.
type Breakdown struct {
	Price        uint64   `json:"price"`
	ProtocolFee  uint64   `json:"protocol_fee"`
	RoyaltyTotal uint64   `json:"royalty_total"`
	SellerCredit uint64   `json:"seller_credit"`
	Royalties    []Payout `json:"royalties,omitempty"`
}

// bpsOf computes floor(amount × bps / 10000) without intermediate
// overflow.
func bpsOf(amount, bps uint64) uint64 {
	d := decimal.NewFromUint64(amount).
		Mul(decimal.NewFromUint64(bps)).
		Div(decimal.NewFromInt(BpsDenominator)).
		Floor()
	return d.BigInt().Uint64()
}

// Compute splits price into protocol fee, creator royalties, and the
// seller's net credit. The fee and royalty are each floor(price × bps /
// 10000) of the same price base; neither is taken from the other's
// remainder. feeOn gates only the protocol fee — royalty-bearing assets
// owe royalties on every fill.
func Compute(price uint64, feeOn bool, cfg Config, asset *custody.AssetInfo) (Breakdown, error) {
	b := Breakdown{Price: price}

	if feeOn {
		b.ProtocolFee = bpsOf(price, cfg.FeeBps)
	}

	if asset != nil && asset.RoyaltyBearing() {
		if err := validateShares(asset.Creators); err != nil {
			return Breakdown{}, fmt.Errorf("asset %s: %w", asset.ID, err)
		}
		total := bpsOf(price, asset.RoyaltyBps)
		b.RoyaltyTotal = total
		b.Royalties = splitRoyalty(total, asset.Creators)
	}

	credit, err := safe.Sub(price, b.ProtocolFee)
	if err != nil {
		return Breakdown{}, fmt.Errorf("fee %d exceeds price %d: %w", b.ProtocolFee, price, err)
	}
	credit, err = safe.Sub(credit, b.RoyaltyTotal)
	if err != nil {
		return Breakdown{}, fmt.Errorf("royalty %d exceeds net price: %w", b.RoyaltyTotal, err)
	}
	b.SellerCredit = credit
	return b, nil
}

// validateShares rejects creator lists whose shares sum past 100%; an
// overfull split would hand out more than the royalty total.
func validateShares(creators []custody.CreatorShare) error {
	var sum uint64
	for _, c := range creators {
		var err error
		if sum, err = safe.Add(sum, c.ShareBps); err != nil {
			return fmt.Errorf("creator shares overflow: %w", err)
		}
	}
	if sum > BpsDenominator {
		return fmt.Errorf("creator shares sum to %d bps, above %d", sum, BpsDenominator)
	}
	return nil
}

// splitRoyalty divides total across creators by their share bps, rounding
// each slice down and giving the remainder to the first creator so the
// slices always sum to total.
func splitRoyalty(total uint64, creators []custody.CreatorShare) []Payout {
	if total == 0 || len(creators) == 0 {
		return nil
	}

	payouts := make([]Payout, len(creators))
	var distributed uint64
	for i, c := range creators {
		amt := bpsOf(total, c.ShareBps)
		payouts[i] = Payout{Recipient: c.Address, Amount: amt}
		distributed += amt
	}
	if rem := total - distributed; rem > 0 {
		payouts[0].Amount += rem
	}
	return payouts
}
