package biz

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/agentpay/internal/shard"
)

func TestShardVaultService_Provision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	shardB := []byte("0123456789abcdef0123456789abcdef")
	want := append([]byte(nil), shardB...)

	salt, err := env.Vault.Provision(ctx, "u1", shardB)
	require.NoError(t, err)
	assert.Len(t, salt, 32)
	assert.Equal(t, make([]byte, len(shardB)), shardB, "input shard must be wiped")

	rec, err := env.Vault.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, salt, rec.Salt)
	assert.True(t, rec.UpdatedAt.Equal(env.clock.Now()), "updated_at %s", rec.UpdatedAt)
	assert.Len(t, strings.Split(rec.EncryptedShardB, ":"), 3)
	assert.NotContains(t, rec.EncryptedShardB, string(want))

	opened, err := env.Vault.OpenServerShard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, opened.Bytes())
	opened.Wipe()

	// Re-provisioning replaces the record, salt included.
	env.clock.Advance(time.Hour)

	salt2, err := env.Vault.Provision(ctx, "u1", []byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	assert.NotEqual(t, salt, salt2)

	opened, err = env.Vault.OpenServerShard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("fedcba9876543210fedcba9876543210"), opened.Bytes())

	rec, err = env.Vault.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.UpdatedAt.Equal(env.clock.Now()), "updated_at %s", rec.UpdatedAt)
}

func TestShardVaultService_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Vault.Provision(ctx, "", []byte("x"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.Vault.Provision(ctx, "u1", nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.Vault.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.Vault.Provision(ctx, "u1", []byte("0123456789abcdef"))
	require.NoError(t, err)

	rec, err := env.Vault.Load(ctx, "u1")
	require.NoError(t, err)

	// The server shard key is bound to the user id.
	rec.UserID = "u2"
	_, err = decryptServerShard(rec)
	require.ErrorIs(t, err, shard.ErrCorrupt)
}

func TestClientShardRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")

	rec, err := env.Vault.Load(ctx, w.UserID)
	require.NoError(t, err)

	a, err := decryptClientShard(rec, w.ClientShard, w.Password)
	require.NoError(t, err)
	defer a.Wipe()

	b, err := decryptServerShard(rec)
	require.NoError(t, err)
	defer b.Wipe()

	key, err := shard.Combine(a, b)
	require.NoError(t, err)
	defer key.Wipe()

	assert.Equal(t, crypto.FromECDSA(w.Key), key.Bytes())

	_, err = decryptClientShard(rec, w.ClientShard, "wrong")
	require.ErrorIs(t, err, shard.ErrCorrupt)
}
