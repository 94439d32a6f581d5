package domain

import "time"

// Approval grants Spender the right to transfer an asset on the owner's
// behalf. A nil ExpiresAt never expires.
type Approval struct {
	Spender   string
	ExpiresAt *time.Time
}

// Expired reports whether the approval is no longer active at now.
func (a Approval) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Asset is a uniquely identified item tracked by the custody gateway.
type Asset struct {
	AssetID   string
	Owner     string
	Approvals []Approval
	MintedAt  time.Time
}
