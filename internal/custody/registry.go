package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Gateway is the custody ledger the exchange settles against. It is the sole
// source of truth for asset ownership.
type Gateway interface {
	OwnerOf(ctx context.Context, assetID string) (string, error)
	Approval(ctx context.Context, assetID, spender string) (domain.Approval, error)
	Transfer(ctx context.Context, sender, assetID, recipient string) error
}

// assetEntry is the B-tree item. Entries are treated as immutable so that
// cloned trees can share them; every mutation replaces the entry.
type assetEntry struct {
	AssetID   string            `json:"asset_id"`
	Owner     string            `json:"owner"`
	Approvals []domain.Approval `json:"approvals,omitempty"`
	MintedAt  time.Time         `json:"minted_at"`
}

func assetLess(a, b assetEntry) bool {
	return a.AssetID < b.AssetID
}

func (e assetEntry) toAsset() *domain.Asset {
	approvals := make([]domain.Approval, len(e.Approvals))
	copy(approvals, e.Approvals)
	return &domain.Asset{
		AssetID:   e.AssetID,
		Owner:     e.Owner,
		Approvals: approvals,
		MintedAt:  e.MintedAt,
	}
}

// Registry is an in-process custody gateway keeping assets in a B-tree
// ordered by asset id. Snapshots are lazy copy-on-write clones of the tree,
// so reverting a failed transaction restores ownership and approvals exactly.
type Registry struct {
	mu        sync.RWMutex
	assets    *btree.BTreeG[assetEntry]
	snapshots []*btree.BTreeG[assetEntry]
	expiry    *ApprovalSweeper
	nowFn     func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	const degree = 32
	return &Registry{
		assets: btree.NewG[assetEntry](degree, assetLess),
		nowFn:  time.Now,
	}
}

// SetSweeper registers the sweeper that tracks expiring approvals.
func (r *Registry) SetSweeper(s *ApprovalSweeper) { r.expiry = s }

// SetNowFunc overrides the time source used to evaluate approval expiry.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// Mint creates a new asset owned by owner. It returns
// domain.ErrAssetExists if the id is taken.
func (r *Registry) Mint(assetID, owner string) (*domain.Asset, error) {
	if assetID == "" || owner == "" {
		return nil, &domain.ValidationError{Message: "asset_id and owner are required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets.Get(assetEntry{AssetID: assetID}); ok {
		return nil, domain.ErrAssetExists
	}
	e := assetEntry{AssetID: assetID, Owner: owner, MintedAt: r.nowFn().UTC()}
	r.assets.ReplaceOrInsert(e)
	return e.toAsset(), nil
}

// Asset returns a copy of the asset. It returns domain.ErrAssetNotFound if
// the asset does not exist.
func (r *Registry) Asset(assetID string) (*domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.assets.Get(assetEntry{AssetID: assetID})
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	return e.toAsset(), nil
}

// OwnerOf returns the current owner of assetID.
func (r *Registry) OwnerOf(_ context.Context, assetID string) (string, error) {
	a, err := r.Asset(assetID)
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

// Approval returns spender's active approval over assetID. Expired
// approvals are ignored.
func (r *Registry) Approval(_ context.Context, assetID, spender string) (domain.Approval, error) {
	a, err := r.Asset(assetID)
	if err != nil {
		return domain.Approval{}, err
	}
	now := r.nowFn()
	for _, ap := range a.Approvals {
		if ap.Spender == spender && !ap.Expired(now) {
			return ap, nil
		}
	}
	return domain.Approval{}, domain.ErrApprovalNotFound
}

// Approve lets spender transfer assetID on sender's behalf until expiresAt
// (nil never expires). Only the owner may approve. A second approval for the
// same spender replaces the first.
func (r *Registry) Approve(_ context.Context, sender, assetID, spender string, expiresAt *time.Time) error {
	if spender == "" {
		return &domain.ValidationError{Message: "spender is required"}
	}
	r.mu.Lock()
	e, ok := r.assets.Get(assetEntry{AssetID: assetID})
	if !ok {
		r.mu.Unlock()
		return domain.ErrAssetNotFound
	}
	if e.Owner != sender {
		r.mu.Unlock()
		return domain.ErrUnauthorized
	}
	approvals := make([]domain.Approval, 0, len(e.Approvals)+1)
	for _, ap := range e.Approvals {
		if ap.Spender != spender {
			approvals = append(approvals, ap)
		}
	}
	approvals = append(approvals, domain.Approval{Spender: spender, ExpiresAt: expiresAt})
	e.Approvals = approvals
	r.assets.ReplaceOrInsert(e)
	r.mu.Unlock()

	if expiresAt != nil && r.expiry != nil {
		r.expiry.Add(assetID, spender, *expiresAt)
	}
	return nil
}

// Revoke removes spender's approval over assetID. Only the owner may revoke.
func (r *Registry) Revoke(_ context.Context, sender, assetID, spender string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.assets.Get(assetEntry{AssetID: assetID})
	if !ok {
		return domain.ErrAssetNotFound
	}
	if e.Owner != sender {
		return domain.ErrUnauthorized
	}
	approvals := make([]domain.Approval, 0, len(e.Approvals))
	for _, ap := range e.Approvals {
		if ap.Spender != spender {
			approvals = append(approvals, ap)
		}
	}
	if len(approvals) == len(e.Approvals) {
		return domain.ErrApprovalNotFound
	}
	e.Approvals = approvals
	r.assets.ReplaceOrInsert(e)
	return nil
}

// Transfer moves assetID to recipient. sender must be the owner or hold an
// active approval. All approvals are cleared on transfer.
func (r *Registry) Transfer(_ context.Context, sender, assetID, recipient string) error {
	if recipient == "" {
		return &domain.ValidationError{Message: "recipient is required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.assets.Get(assetEntry{AssetID: assetID})
	if !ok {
		return domain.ErrAssetNotFound
	}
	if e.Owner != sender && !hasActiveApproval(e, sender, r.nowFn()) {
		return domain.ErrUnauthorized
	}
	e.Owner = recipient
	e.Approvals = nil
	r.assets.ReplaceOrInsert(e)
	return nil
}

func hasActiveApproval(e assetEntry, spender string, now time.Time) bool {
	for _, ap := range e.Approvals {
		if ap.Spender == spender && !ap.Expired(now) {
			return true
		}
	}
	return false
}

// Tokens returns the assets owned by owner in ascending asset id order.
func (r *Registry) Tokens(owner string, offset, limit int) []*domain.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Asset, 0)
	skipped := 0
	r.assets.Ascend(func(e assetEntry) bool {
		if e.Owner != owner {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		if limit > 0 && len(result) >= limit {
			return false
		}
		result = append(result, e.toAsset())
		return true
	})
	return result
}

// expireApproval drops spender's approval over assetID if it still carries
// the given expiry. It reports whether an approval was removed.
func (r *Registry) expireApproval(assetID, spender string, expiresAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.assets.Get(assetEntry{AssetID: assetID})
	if !ok {
		return false
	}
	approvals := make([]domain.Approval, 0, len(e.Approvals))
	removed := false
	for _, ap := range e.Approvals {
		if ap.Spender == spender && ap.ExpiresAt != nil && ap.ExpiresAt.Equal(expiresAt) {
			removed = true
			continue
		}
		approvals = append(approvals, ap)
	}
	if !removed {
		return false
	}
	e.Approvals = approvals
	r.assets.ReplaceOrInsert(e)
	return true
}

// Snapshot records the current state and returns an id for
// RevertToSnapshot.
func (r *Registry) Snapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots = append(r.snapshots, r.assets.Clone())
	return len(r.snapshots) - 1
}

// RevertToSnapshot restores the state recorded by Snapshot(id) and drops
// that snapshot and every later one.
func (r *Registry) RevertToSnapshot(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.snapshots) {
		return
	}
	r.assets = r.snapshots[id]
	r.snapshots = r.snapshots[:id]
}

// DiscardSnapshots forgets every recorded snapshot, keeping current state.
func (r *Registry) DiscardSnapshots() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = nil
}

// Checkpoint encodes every asset in ascending id order.
func (r *Registry) Checkpoint() (json.RawMessage, error) {
	r.mu.RLock()
	entries := make([]assetEntry, 0, r.assets.Len())
	r.assets.Ascend(func(e assetEntry) bool {
		entries = append(entries, e)
		return true
	})
	r.mu.RUnlock()

	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode custody checkpoint: %w", err)
	}
	return raw, nil
}

// Restore replaces the registry contents with a checkpoint and reschedules
// the approvals that carry an expiry.
func (r *Registry) Restore(state json.RawMessage) error {
	var entries []assetEntry
	if err := json.Unmarshal(state, &entries); err != nil {
		return fmt.Errorf("decode custody checkpoint: %w", err)
	}
	const degree = 32
	assets := btree.NewG[assetEntry](degree, assetLess)
	for _, e := range entries {
		assets.ReplaceOrInsert(e)
	}

	r.mu.Lock()
	r.assets = assets
	r.snapshots = nil
	r.mu.Unlock()

	if r.expiry == nil {
		return nil
	}
	for _, e := range entries {
		for _, ap := range e.Approvals {
			if ap.ExpiresAt != nil {
				r.expiry.Add(e.AssetID, ap.Spender, *ap.ExpiresAt)
			}
		}
	}
	return nil
}
