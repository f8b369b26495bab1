package custody

import "context"

// directAdapter handles plainly held tokens: escrow is a delegate
// approval on the holding record, release is a revoke, and a move is a
// standard transfer. No proof material is required.
type directAdapter struct {
	ledger TokenLedger
}

func (a *directAdapter) Lock(ctx context.Context, asset *AssetInfo, owner, custodian string, _ *Proof) error {
	return a.ledger.Approve(ctx, asset.ID, owner, custodian)
}

func (a *directAdapter) Unlock(ctx context.Context, asset *AssetInfo, owner, _ string, _ *Proof) error {
	return a.ledger.Revoke(ctx, asset.ID, owner)
}

func (a *directAdapter) Move(ctx context.Context, asset *AssetInfo, from, to string, _ *Proof) error {
	return a.ledger.Transfer(ctx, asset.ID, from, to)
}
