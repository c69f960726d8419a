package biz

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/shard"
)

type ShardVaultServiceParams struct {
	fx.In

	DB    *gorm.DB
	Clock *Clock
}

// ShardVaultService stores the server half of each user's key. Records are encrypted
// under a key derived from the user id and a per-user salt; plaintext never leaves
// the call that decrypted it.
type ShardVaultService struct {
	*AbstractService

	clock *Clock
}

func NewShardVaultService(params ShardVaultServiceParams) *ShardVaultService {
	return &ShardVaultService{
		AbstractService: &AbstractService{db: params.DB},
		clock:           params.Clock,
	}
}

// Provision encrypts shardB for userID under a fresh salt, replacing any previous record.
// shardB is wiped before returning. The salt is returned because the client derives its
// own shard key from it.
func (s *ShardVaultService) Provision(ctx context.Context, userID string, shardB []byte) (string, error) {
	secret := shard.NewSecret(shardB)
	defer secret.Wipe()

	if userID == "" {
		return "", invalid("user_id", "is required")
	}

	if secret.Len() == 0 {
		return "", invalid("shard", "is empty")
	}

	salt, err := shard.NewSalt()
	if err != nil {
		return "", err
	}

	rawSalt, err := shard.DecodeSalt(salt)
	if err != nil {
		return "", err
	}

	key := shard.DeriveKey(userID, rawSalt)
	defer key.Wipe()

	encrypted, err := shard.Encrypt(secret.Bytes(), key)
	if err != nil {
		return "", err
	}

	rec := &objects.ShardRecord{
		UserID:          userID,
		EncryptedShardB: encrypted,
		Salt:            salt,
		UpdatedAt:       s.clock.now().UTC(),
	}

	err = s.dbFromContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_shard_b", "salt", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return "", fmt.Errorf("store shard: %w", err)
	}

	log.Info(ctx, "server shard provisioned", log.String("user_id", userID))

	return salt, nil
}

func (s *ShardVaultService) Load(ctx context.Context, userID string) (*objects.ShardRecord, error) {
	var rec objects.ShardRecord

	err := s.dbFromContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no shard provisioned for user %s", ErrNotFound, userID)
	}

	if err != nil {
		return nil, fmt.Errorf("load shard: %w", err)
	}

	return &rec, nil
}

// OpenServerShard loads and decrypts the server shard. The caller owns the returned Secret.
func (s *ShardVaultService) OpenServerShard(ctx context.Context, userID string) (*shard.Secret, error) {
	rec, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	return decryptServerShard(rec)
}

func decryptServerShard(rec *objects.ShardRecord) (*shard.Secret, error) {
	salt, err := shard.DecodeSalt(rec.Salt)
	if err != nil {
		return nil, err
	}

	key := shard.DeriveKey(rec.UserID, salt)
	defer key.Wipe()

	return shard.Decrypt(rec.EncryptedShardB, key)
}

// decryptClientShard opens the client's shard with a key stretched from its password and
// the same per-user salt.
func decryptClientShard(rec *objects.ShardRecord, ciphertext, password string) (*shard.Secret, error) {
	salt, err := shard.DecodeSalt(rec.Salt)
	if err != nil {
		return nil, err
	}

	key := shard.DeriveKey(password, salt)
	defer key.Wipe()

	return shard.Decrypt(ciphertext, key)
}

// SealClientShard encrypts shardA the way decryptClientShard expects. It exists for client
// tooling and tests; the service never stores its output.
func SealClientShard(shardA []byte, password, salt string) (string, error) {
	raw, err := shard.DecodeSalt(salt)
	if err != nil {
		return "", err
	}

	key := shard.DeriveKey(password, raw)
	defer key.Wipe()

	return shard.Encrypt(shardA, key)
}
