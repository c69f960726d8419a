package objects

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionStatusPending  ExecutionStatus = "pending"
	ExecutionStatusSuccess  ExecutionStatus = "success"
	ExecutionStatusFailed   ExecutionStatus = "failed"
	ExecutionStatusRejected ExecutionStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusPending
}

type ExecutionType string

const (
	ExecutionTypeNativeTransfer ExecutionType = "native_transfer"
	ExecutionTypeTokenTransfer  ExecutionType = "token_transfer"
	ExecutionTypeSignMessage    ExecutionType = "sign_message"
	ExecutionTypeSignTypedData  ExecutionType = "sign_typed_data"
)

// ExecutionRecord is the audit row written once per execute attempt.
// ReservedAmount and ReservationPeriod describe the ledger hold so a later resolution can release it.
type ExecutionRecord struct {
	ID                string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	GrantID           string          `gorm:"type:varchar(66);not null;index:idx_exec_grant_time,priority:1" json:"grant_id"`
	StrategyType      *string         `gorm:"type:varchar(64)" json:"strategy_type,omitempty"`
	ExecutionType     ExecutionType   `gorm:"type:varchar(32);not null" json:"execution_type"`
	Amount            decimal.Decimal `gorm:"type:varchar(80);not null" json:"amount"`
	Token             *string         `gorm:"type:varchar(42)" json:"token,omitempty"`
	Venue             *string         `gorm:"type:varchar(128)" json:"venue,omitempty"`
	Status            ExecutionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorMessage      *string         `gorm:"type:text" json:"error_message,omitempty"`
	ErrorCode         *string         `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	TxHash            *string         `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	ReservedAmount    decimal.Decimal `gorm:"type:varchar(80);not null" json:"reserved_amount"`
	ReservationPeriod string          `gorm:"type:varchar(10)" json:"reservation_period,omitempty"`
	ExecutedAt        time.Time       `gorm:"not null;index:idx_exec_grant_time,priority:2" json:"executed_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	Metadata          map[string]any  `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
}

func (ExecutionRecord) TableName() string {
	return "execution_records"
}
