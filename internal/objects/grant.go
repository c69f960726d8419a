package objects

import (
	"time"

	"github.com/shopspring/decimal"
)

type GrantStatus string

const (
	GrantStatusActive  GrantStatus = "active"
	GrantStatusExpired GrantStatus = "expired"
	GrantStatusRevoked GrantStatus = "revoked"
)

// CapabilityGrant is the spending authorization an owner hands to a signer.
// Amounts are token units. Version is bumped on every ledger write and guards compare-and-set updates.
type CapabilityGrant struct {
	ID               string          `gorm:"primaryKey;type:varchar(66)" json:"id"`
	OwnerAddress     string          `gorm:"type:varchar(42);not null;index:idx_grants_owner_created,priority:1" json:"owner_address"`
	SignerAddress    string          `gorm:"type:varchar(42);not null" json:"signer_address"`
	SingleLimit      decimal.Decimal `gorm:"type:varchar(80);not null" json:"single_limit"`
	DailyLimit       decimal.Decimal `gorm:"type:varchar(80);not null" json:"daily_limit"`
	UsedToday        decimal.Decimal `gorm:"type:varchar(80);not null" json:"used_today"`
	LastResetDate    string          `gorm:"type:varchar(10);not null" json:"last_reset_date"`
	ExpiresAt        time.Time       `gorm:"not null" json:"expires_at"`
	Status           GrantStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	OnChainSessionID *string         `gorm:"type:varchar(66)" json:"on_chain_session_id,omitempty"`
	OnChainBacked    bool            `gorm:"not null;default:false" json:"on_chain_backed"`
	AgentID          *string         `gorm:"type:varchar(128)" json:"agent_id,omitempty"`
	Version          int64           `gorm:"not null;default:0" json:"-"`
	RevokedAt        *time.Time      `json:"revoked_at,omitempty"`
	CreatedAt        time.Time       `gorm:"not null;index:idx_grants_owner_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (CapabilityGrant) TableName() string {
	return "capability_grants"
}

// Expired reports whether an active grant has passed its expiry at now.
func (g *CapabilityGrant) Expired(now time.Time) bool {
	return g.Status == GrantStatusActive && now.After(g.ExpiresAt)
}

// EffectiveStatus derives the status observed at now. Expiry is never stored ahead of time,
// so an active row past its expiry reads as expired.
func (g *CapabilityGrant) EffectiveStatus(now time.Time) GrantStatus {
	if g.Expired(now) {
		return GrantStatusExpired
	}

	return g.Status
}
