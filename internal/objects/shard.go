package objects

import "time"

// ShardRecord holds the server half of a user's split key, encrypted at rest.
type ShardRecord struct {
	UserID          string    `gorm:"primaryKey;type:varchar(128)"`
	EncryptedShardB string    `gorm:"type:text;not null"`
	Salt            string    `gorm:"type:varchar(64);not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (ShardRecord) TableName() string {
	return "shard_records"
}

type WalletBinding struct {
	UserID       string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	OwnerAddress string    `gorm:"type:varchar(42);not null;index" json:"owner_address"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WalletBinding) TableName() string {
	return "wallet_bindings"
}
