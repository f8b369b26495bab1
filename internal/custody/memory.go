package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// In-memory collaborator implementations. Used for testing and for
// single-process deployments where the asset primitives are not backed by
// an external ledger.

// MemoryRegistry is a fixed map of asset metadata.
type MemoryRegistry struct {
	mu     sync.RWMutex
	assets map[string]AssetInfo
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{assets: make(map[string]AssetInfo)}
}

// Register adds or replaces an asset's metadata.
func (r *MemoryRegistry) Register(info AssetInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[info.ID] = info
}

func (r *MemoryRegistry) AssetInfo(_ context.Context, assetID string) (*AssetInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	cp := info
	return &cp, nil
}

type tokenState struct {
	owner    string
	delegate string
	frozen   bool
}

// MemoryLedger implements TokenLedger over in-memory token records.
type MemoryLedger struct {
	mu     sync.Mutex
	tokens map[string]*tokenState
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{tokens: make(map[string]*tokenState)}
}

// Mint creates a token record held by owner.
func (l *MemoryLedger) Mint(assetID, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[assetID] = &tokenState{owner: owner}
}

func (l *MemoryLedger) get(assetID string) (*tokenState, error) {
	t, ok := l.tokens[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return t, nil
}

func (l *MemoryLedger) OwnerOf(_ context.Context, assetID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(assetID)
	if err != nil {
		return "", err
	}
	return t.owner, nil
}

// Transfer moves the token to a new owner, clearing any delegation. A
// frozen token cannot move; it must be thawed first.
func (l *MemoryLedger) Transfer(_ context.Context, assetID, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(assetID)
	if err != nil {
		return err
	}
	if t.frozen {
		return fmt.Errorf("%w: %s", ErrAssetFrozen, assetID)
	}
	if t.owner != from && t.delegate != from {
		return fmt.Errorf("%w: %s held by %s", ErrWrongOwner, assetID, t.owner)
	}
	t.owner = to
	t.delegate = ""
	return nil
}

func (l *MemoryLedger) Approve(_ context.Context, assetID, owner, delegate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(assetID)
	if err != nil {
		return err
	}
	if t.owner != owner {
		return fmt.Errorf("%w: %s held by %s", ErrWrongOwner, assetID, t.owner)
	}
	t.delegate = delegate
	return nil
}

func (l *MemoryLedger) Revoke(_ context.Context, assetID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(assetID)
	if err != nil {
		return err
	}
	if t.owner != owner {
		return fmt.Errorf("%w: %s held by %s", ErrWrongOwner, assetID, t.owner)
	}
	if t.delegate == "" {
		return fmt.Errorf("%w: %s", ErrNoDelegate, assetID)
	}
	t.delegate = ""
	return nil
}

func (l *MemoryLedger) Freeze(_ context.Context, assetID, delegate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(assetID)
	if err != nil {
		return err
	}
	if t.delegate != delegate {
		return fmt.Errorf("%w: %s", ErrWrongDelegate, assetID)
	}
	t.frozen = true
	return nil
}

func (l *MemoryLedger) Thaw(_ context.Context, assetID, delegate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.get(assetID)
	if err != nil {
		return err
	}
	if !t.frozen {
		return fmt.Errorf("%w: %s", ErrNotFrozen, assetID)
	}
	if t.delegate != delegate {
		return fmt.Errorf("%w: %s", ErrWrongDelegate, assetID)
	}
	t.frozen = false
	return nil
}

type leaf struct {
	owner       string
	dataHash    string
	creatorHash string
	index       uint64
}

// MemoryTree implements ProofTree with a flat leaf set whose root is the
// hash of every leaf in index order. Reparent checks the supplied path
// against current state before rewriting the leaf.
type MemoryTree struct {
	mu     sync.Mutex
	leaves map[string]*leaf
}

// NewMemoryTree creates an empty accumulator.
func NewMemoryTree() *MemoryTree {
	return &MemoryTree{leaves: make(map[string]*leaf)}
}

// Append inserts a new leaf for assetID owned by owner and returns its
// index.
func (t *MemoryTree) Append(assetID, owner, dataHash, creatorHash string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := uint64(len(t.leaves))
	t.leaves[assetID] = &leaf{
		owner:       owner,
		dataHash:    dataHash,
		creatorHash: creatorHash,
		index:       idx,
	}
	return idx
}

func (t *MemoryTree) LeafOwner(_ context.Context, assetID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lf, ok := t.leaves[assetID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return lf.owner, nil
}

func (t *MemoryTree) Reparent(_ context.Context, assetID, newOwner string, proof LeafProof) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lf, ok := t.leaves[assetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	if proof.DataHash != lf.dataHash || proof.CreatorHash != lf.creatorHash || proof.LeafIndex != lf.index {
		return fmt.Errorf("%w: leaf %s", ErrProofMismatch, assetID)
	}
	if proof.Root != t.rootLocked() {
		return fmt.Errorf("%w: stale root for %s", ErrProofMismatch, assetID)
	}
	lf.owner = newOwner
	return nil
}

// Root returns the current accumulator root.
func (t *MemoryTree) Root() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootLocked()
}

// ProofFor builds a valid inclusion proof for assetID against the current
// root. Stands in for the off-chain proof service a real deployment uses.
func (t *MemoryTree) ProofFor(assetID string) (LeafProof, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lf, ok := t.leaves[assetID]
	if !ok {
		return LeafProof{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return LeafProof{
		Root:        t.rootLocked(),
		DataHash:    lf.dataHash,
		CreatorHash: lf.creatorHash,
		LeafIndex:   lf.index,
	}, nil
}

func (t *MemoryTree) rootLocked() string {
	ids := make([]string, 0, len(t.leaves))
	for id := range t.leaves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return t.leaves[ids[i]].index < t.leaves[ids[j]].index
	})

	h := sha256.New()
	for _, id := range ids {
		lf := t.leaves[id]
		fmt.Fprintf(h, "%d|%s|%s|%s|%s\n", lf.index, id, lf.owner, lf.dataHash, lf.creatorHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}
