package objects

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type FrequencyPeriod string

const (
	FrequencyPeriodHour FrequencyPeriod = "hour"
	FrequencyPeriodDay  FrequencyPeriod = "day"
)

func (p FrequencyPeriod) Valid() bool {
	return p == FrequencyPeriodHour || p == FrequencyPeriodDay
}

// StrategyPermission narrows what a grant may do for one strategy type.
// Empty AllowedTokens or AllowedVenues means any.
type StrategyPermission struct {
	ID              string              `gorm:"primaryKey;type:varchar(36)" json:"id"`
	GrantID         string              `gorm:"type:varchar(66);not null;uniqueIndex:uniq_strategy_grant_type,priority:1" json:"grant_id"`
	StrategyType    string              `gorm:"type:varchar(64);not null;uniqueIndex:uniq_strategy_grant_type,priority:2" json:"strategy_type"`
	Allowed         bool                `gorm:"not null" json:"allowed"`
	MaxAmount       decimal.NullDecimal `gorm:"type:varchar(80)" json:"max_amount"`
	MaxFrequency    *int                `json:"max_frequency,omitempty"`
	FrequencyPeriod FrequencyPeriod     `gorm:"type:varchar(8);not null;default:day" json:"frequency_period"`
	AllowedTokens   []string            `gorm:"type:text;serializer:json" json:"allowed_tokens"`
	AllowedVenues   []string            `gorm:"type:text;serializer:json" json:"allowed_venues"`
	RiskLimits      json.RawMessage     `gorm:"type:text;serializer:json" json:"risk_limits,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (StrategyPermission) TableName() string {
	return "strategy_permissions"
}
