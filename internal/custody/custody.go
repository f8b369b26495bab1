// Package custody abstracts how a traded asset is locked into, released
// from, and moved out of escrow. Three transfer regimes exist: directly
// held tokens, transfer-restricted tokens that need delegate-based
// freeze/thaw, and compressed assets living as leaves of an off-ledger
// Merkle accumulator. The settlement engine calls one interface; the
// regime is selected here, once, from the asset's transfer policy.
package custody

import (
	"context"
	"errors"
	"fmt"
)

// Policy is an asset's transfer-policy regime.
type Policy string

const (
	PolicyDirect     Policy = "direct"
	PolicyRestricted Policy = "restricted"
	PolicyCompressed Policy = "compressed"
)

// CreatorShare is one creator's slice of a royalty split, in basis points
// of the royalty total.
type CreatorShare struct {
	Address  string `json:"address"`
	ShareBps uint64 `json:"share_bps"`
}

// AssetInfo is the transfer-policy metadata for one traded asset,
// resolved through a Registry at the custody boundary.
type AssetInfo struct {
	ID         string         `json:"id"`
	Policy     Policy         `json:"policy"`
	RuleSet    string         `json:"rule_set,omitempty"` // restricted assets only
	RoyaltyBps uint64         `json:"royalty_bps"`
	Creators   []CreatorShare `json:"creators,omitempty"`
}

// RoyaltyBearing reports whether fills of this asset owe a creator split.
func (a *AssetInfo) RoyaltyBearing() bool {
	return a.RoyaltyBps > 0 && len(a.Creators) > 0
}

// Registry resolves asset metadata. External collaborator.
type Registry interface {
	AssetInfo(ctx context.Context, assetID string) (*AssetInfo, error)
}

// Proof is caller-supplied material for regimes that need it. Adapters
// reject calls missing required material rather than guessing.
type Proof struct {
	// Restricted: delegate-record proofs and optional authorization rules.
	OwnerRecord string `json:"owner_record,omitempty"`
	DestRecord  string `json:"dest_record,omitempty"`
	AuthRules   string `json:"auth_rules,omitempty"`

	// Compressed: Merkle inclusion path for the leaf.
	Root        string `json:"root,omitempty"`
	DataHash    string `json:"data_hash,omitempty"`
	CreatorHash string `json:"creator_hash,omitempty"`
	LeafIndex   uint64 `json:"leaf_index"`
}

// Typed custody failures. The engine maps these onto its own taxonomy.
var (
	ErrMissingProof  = errors.New("custody: required proof material not supplied")
	ErrWrongOwner    = errors.New("custody: caller does not hold the asset")
	ErrNotEscrowed   = errors.New("custody: asset is not held by the custodian")
	ErrUnknownAsset  = errors.New("custody: unknown asset")
	ErrUnknownPolicy = errors.New("custody: no adapter for transfer policy")
	ErrProofMismatch = errors.New("custody: proof does not match accumulator state")
	ErrAssetFrozen   = errors.New("custody: asset is frozen")
	ErrNoDelegate    = errors.New("custody: no delegate to revoke")
	ErrNotFrozen     = errors.New("custody: asset is not frozen")
	ErrWrongDelegate = errors.New("custody: caller is not the asset's delegate")
)

// TokenLedger is the underlying transfer/approve/freeze primitive set for
// record-held assets. External collaborator; the engine never calls it
// directly.
type TokenLedger interface {
	OwnerOf(ctx context.Context, assetID string) (string, error)
	Transfer(ctx context.Context, assetID, from, to string) error
	Approve(ctx context.Context, assetID, owner, delegate string) error
	Revoke(ctx context.Context, assetID, owner string) error
	Freeze(ctx context.Context, assetID, delegate string) error
	Thaw(ctx context.Context, assetID, delegate string) error
}

// LeafProof is the accumulator-side shape of a compressed move.
type LeafProof struct {
	Root        string
	DataHash    string
	CreatorHash string
	LeafIndex   uint64
}

// ProofTree is the off-ledger Merkle accumulator holding compressed
// assets. Reparent atomically verifies the inclusion proof and rewrites
// the leaf's owner. External collaborator.
type ProofTree interface {
	LeafOwner(ctx context.Context, assetID string) (string, error)
	Reparent(ctx context.Context, assetID, newOwner string, proof LeafProof) error
}

// Adapter is the single custody contract the settlement engine sees.
type Adapter interface {
	// Lock places the asset under the custodian's authority.
	Lock(ctx context.Context, asset *AssetInfo, owner, custodian string, proof *Proof) error
	// Unlock releases the custodian's authority back to the owner.
	Unlock(ctx context.Context, asset *AssetInfo, owner, custodian string, proof *Proof) error
	// Move transfers the asset between parties, supplying whatever proof
	// material the regime needs.
	Move(ctx context.Context, asset *AssetInfo, from, to string, proof *Proof) error
}

// Custodian resolves an asset's policy through the registry and dispatches
// to the regime's adapter. It is the only custody type the engine holds.
type Custodian struct {
	registry Registry
	adapters map[Policy]Adapter
}

// NewCustodian wires the three regime adapters over the collaborator
// primitives.
func NewCustodian(registry Registry, ledger TokenLedger, tree ProofTree) *Custodian {
	return &Custodian{
		registry: registry,
		adapters: map[Policy]Adapter{
			PolicyDirect:     &directAdapter{ledger: ledger},
			PolicyRestricted: &restrictedAdapter{ledger: ledger},
			PolicyCompressed: &compressedAdapter{tree: tree},
		},
	}
}

// Resolve returns the asset's metadata and its regime adapter.
func (c *Custodian) Resolve(ctx context.Context, assetID string) (*AssetInfo, Adapter, error) {
	info, err := c.registry.AssetInfo(ctx, assetID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve asset %s: %w", assetID, err)
	}
	adapter, ok := c.adapters[info.Policy]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, info.Policy)
	}
	return info, adapter, nil
}

// Lock resolves the asset and locks it for the custodian.
func (c *Custodian) Lock(ctx context.Context, assetID, owner, custodian string, proof *Proof) error {
	info, adapter, err := c.Resolve(ctx, assetID)
	if err != nil {
		return err
	}
	return adapter.Lock(ctx, info, owner, custodian, proof)
}

// Unlock resolves the asset and releases it from the custodian.
func (c *Custodian) Unlock(ctx context.Context, assetID, owner, custodian string, proof *Proof) error {
	info, adapter, err := c.Resolve(ctx, assetID)
	if err != nil {
		return err
	}
	return adapter.Unlock(ctx, info, owner, custodian, proof)
}

// ValidateMoveProof checks that proof carries the material a move of
// this asset will require, without touching any ledger state. Callers
// sequencing a release before a move use it to fail fast instead of
// mutating custody and then aborting.
func ValidateMoveProof(asset *AssetInfo, proof *Proof) error {
	switch asset.Policy {
	case PolicyRestricted:
		return (&restrictedAdapter{}).validateProof(asset, proof)
	case PolicyCompressed:
		return validateLeafProof(asset, proof)
	default:
		return nil
	}
}

// Move resolves the asset and transfers it between parties.
func (c *Custodian) Move(ctx context.Context, assetID, from, to string, proof *Proof) error {
	info, adapter, err := c.Resolve(ctx, assetID)
	if err != nil {
		return err
	}
	return adapter.Move(ctx, info, from, to, proof)
}
