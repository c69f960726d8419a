package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/db"
	"github.com/looplj/agentpay/internal/server/db/dbtest"
)

func grant(id string, status objects.GrantStatus) *objects.CapabilityGrant {
	return &objects.CapabilityGrant{
		ID:            id,
		OwnerAddress:  "0x1111111111111111111111111111111111111111",
		SignerAddress: "0x2222222222222222222222222222222222222222",
		SingleLimit:   decimal.NewFromInt(10),
		DailyLimit:    decimal.NewFromInt(20),
		UsedToday:     decimal.Zero,
		LastResetDate: "2026-01-01",
		ExpiresAt:     time.Now().Add(time.Hour),
		Status:        status,
	}
}

func TestMigrate_ActivePairUnique(t *testing.T) {
	gdb := dbtest.New(t)
	ctx := context.Background()

	require.NoError(t, gdb.WithContext(ctx).Create(grant("a", objects.GrantStatusActive)).Error)

	err := gdb.WithContext(ctx).Create(grant("b", objects.GrantStatusActive)).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	require.NoError(t, gdb.WithContext(ctx).Create(grant("c", objects.GrantStatusRevoked)).Error)
	require.NoError(t, gdb.WithContext(ctx).Create(grant("d", objects.GrantStatusExpired)).Error)
}

func TestMigrate_Idempotent(t *testing.T) {
	gdb := dbtest.New(t)
	require.NoError(t, db.Migrate(context.Background(), gdb))
}

func TestDecimalAndJSONColumns(t *testing.T) {
	gdb := dbtest.New(t)
	ctx := context.Background()

	maxFreq := 3
	perm := &objects.StrategyPermission{
		ID:              "p1",
		GrantID:         "g1",
		StrategyType:    "dca",
		Allowed:         true,
		MaxAmount:       decimal.NewNullDecimal(decimal.RequireFromString("12.345")),
		MaxFrequency:    &maxFreq,
		FrequencyPeriod: objects.FrequencyPeriodHour,
		AllowedTokens:   []string{"0xaaa"},
		RiskLimits:      []byte(`{"max_slippage_bps":50}`),
	}
	require.NoError(t, gdb.WithContext(ctx).Create(perm).Error)

	var got objects.StrategyPermission
	require.NoError(t, gdb.WithContext(ctx).First(&got, "id = ?", "p1").Error)
	assert.True(t, got.MaxAmount.Valid)
	assert.True(t, got.MaxAmount.Decimal.Equal(decimal.RequireFromString("12.345")))
	assert.Equal(t, []string{"0xaaa"}, got.AllowedTokens)
	assert.JSONEq(t, `{"max_slippage_bps":50}`, string(got.RiskLimits))
	assert.Equal(t, 3, *got.MaxFrequency)
}

func TestTxContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, db.TxFromContext(ctx))

	gdb := dbtest.New(t)
	assert.Same(t, gdb, db.TxFromContext(db.WithTx(ctx, gdb)))
}
