package service

import (
	"context"
	"time"

	"github.com/efreitasn/escrowexchange/internal/custody"
	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/host"
)

// CustodyService exposes the reference custody registry. Mutations run
// between exchange transactions.
type CustodyService struct {
	host     *host.Host
	registry *custody.Registry
}

// NewCustodyService creates a new CustodyService.
func NewCustodyService(h *host.Host, registry *custody.Registry) *CustodyService {
	return &CustodyService{host: h, registry: registry}
}

// Mint creates a new asset owned by owner.
func (s *CustodyService) Mint(assetID, owner string) (*domain.Asset, error) {
	if err := validateID("asset_id", assetID); err != nil {
		return nil, err
	}
	if err := validateAddress("owner", owner); err != nil {
		return nil, err
	}
	var asset *domain.Asset
	err := s.host.Exclusive(func() error {
		var err error
		asset, err = s.registry.Mint(assetID, owner)
		return err
	})
	return asset, err
}

// Asset returns an asset with its approvals.
func (s *CustodyService) Asset(assetID string) (*domain.Asset, error) {
	if err := validateID("asset_id", assetID); err != nil {
		return nil, err
	}
	return s.registry.Asset(assetID)
}

// Approve grants spender an approval over assetID. A nil expiresAt never
// expires; an expiry in the past is rejected.
func (s *CustodyService) Approve(ctx context.Context, sender, assetID, spender string, expiresAt *time.Time) error {
	if err := validateAddress("sender", sender); err != nil {
		return err
	}
	if err := validateID("asset_id", assetID); err != nil {
		return err
	}
	if err := validateAddress("spender", spender); err != nil {
		return err
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return &domain.ValidationError{Message: "expires_at must be in the future"}
	}
	return s.host.Exclusive(func() error {
		return s.registry.Approve(ctx, sender, assetID, spender, expiresAt)
	})
}

// Revoke removes spender's approval over assetID.
func (s *CustodyService) Revoke(ctx context.Context, sender, assetID, spender string) error {
	if err := validateAddress("sender", sender); err != nil {
		return err
	}
	if err := validateID("asset_id", assetID); err != nil {
		return err
	}
	return s.host.Exclusive(func() error {
		return s.registry.Revoke(ctx, sender, assetID, spender)
	})
}
