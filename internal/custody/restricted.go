package custody

import (
	"context"
	"fmt"
)

// restrictedAdapter handles tokens carrying authorization rules. Escrow is
// a delegate grant followed by a freeze so the owner cannot move the token
// out from under the escrow; release thaws and revokes. A move must
// present delegate-record proofs for both sides and, when the asset is
// configured with a rule set, the matching authorization-rules account.
// Missing material is a hard error, never a silent fallback to the direct
// path.
type restrictedAdapter struct {
	ledger TokenLedger
}

func (a *restrictedAdapter) Lock(ctx context.Context, asset *AssetInfo, owner, custodian string, _ *Proof) error {
	if err := a.ledger.Approve(ctx, asset.ID, owner, custodian); err != nil {
		return err
	}
	return a.ledger.Freeze(ctx, asset.ID, custodian)
}

func (a *restrictedAdapter) Unlock(ctx context.Context, asset *AssetInfo, owner, custodian string, _ *Proof) error {
	if err := a.ledger.Thaw(ctx, asset.ID, custodian); err != nil {
		return err
	}
	return a.ledger.Revoke(ctx, asset.ID, owner)
}

func (a *restrictedAdapter) Move(ctx context.Context, asset *AssetInfo, from, to string, proof *Proof) error {
	if err := a.validateProof(asset, proof); err != nil {
		return err
	}
	return a.ledger.Transfer(ctx, asset.ID, from, to)
}

func (a *restrictedAdapter) validateProof(asset *AssetInfo, proof *Proof) error {
	if proof == nil {
		return fmt.Errorf("%w: restricted move for %s", ErrMissingProof, asset.ID)
	}
	if proof.OwnerRecord == "" {
		return fmt.Errorf("%w: owner delegate record for %s", ErrMissingProof, asset.ID)
	}
	if proof.DestRecord == "" {
		return fmt.Errorf("%w: destination delegate record for %s", ErrMissingProof, asset.ID)
	}
	if asset.RuleSet != "" {
		if proof.AuthRules == "" {
			return fmt.Errorf("%w: authorization rules for %s", ErrMissingProof, asset.ID)
		}
		if proof.AuthRules != asset.RuleSet {
			return fmt.Errorf("%w: authorization rules for %s", ErrProofMismatch, asset.ID)
		}
	}
	return nil
}
