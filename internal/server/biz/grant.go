package biz

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/objects"
)

type CreateGrantInput struct {
	OwnerAddress     string          `json:"owner_address"`
	SignerAddress    string          `json:"signer_address"`
	SingleLimit      decimal.Decimal `json:"single_limit"`
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	ExpiryDays       int             `json:"expiry_days"`
	OnChainSessionID *string         `json:"on_chain_session_id,omitempty"`
	AgentID          *string         `json:"agent_id,omitempty"`
	IssuedAt         time.Time       `json:"issued_at"`
	OwnerSignature   string          `json:"owner_signature"`
}

// GrantAuthorizationMessage is the exact text the owner signs (EIP-191 personal_sign)
// to authorize a grant.
func GrantAuthorizationMessage(in CreateGrantInput) string {
	var b strings.Builder

	b.WriteString("agentpay grant authorization\n")
	fmt.Fprintf(&b, "owner: %s\n", normalizeAddress(in.OwnerAddress))
	fmt.Fprintf(&b, "signer: %s\n", normalizeAddress(in.SignerAddress))
	fmt.Fprintf(&b, "single_limit: %s\n", in.SingleLimit.String())
	fmt.Fprintf(&b, "daily_limit: %s\n", in.DailyLimit.String())
	fmt.Fprintf(&b, "expiry_days: %d\n", in.ExpiryDays)
	fmt.Fprintf(&b, "session_id: %s\n", lo.FromPtrOr(in.OnChainSessionID, "none"))
	fmt.Fprintf(&b, "agent_id: %s\n", lo.FromPtrOr(in.AgentID, "none"))
	fmt.Fprintf(&b, "issued_at: %s", in.IssuedAt.UTC().Format(time.RFC3339))

	return b.String()
}

type RevokeResult struct {
	Grant          *objects.CapabilityGrant `json:"grant"`
	OnChainRevoked bool                     `json:"on_chain_revoked"`
	OnChainTxHash  string                   `json:"on_chain_tx_hash,omitempty"`
	Warning        string                   `json:"warning,omitempty"`
}

type GrantServiceParams struct {
	fx.In

	Config         GrantConfig
	DB             *gorm.DB
	Clock          *Clock
	SessionManager chain.SessionManager
}

type GrantService struct {
	*AbstractService

	config   GrantConfig
	clock    *Clock
	sessions chain.SessionManager
}

func NewGrantService(params GrantServiceParams) *GrantService {
	return &GrantService{
		AbstractService: &AbstractService{db: params.DB},
		config:          params.Config.withDefaults(),
		clock:           params.Clock,
		sessions:        params.SessionManager,
	}
}

func (s *GrantService) CreateGrant(ctx context.Context, in CreateGrantInput) (*objects.CapabilityGrant, error) {
	onChain := in.OnChainSessionID != nil && *in.OnChainSessionID != ""

	if err := s.validateCreate(in, onChain); err != nil {
		return nil, err
	}

	now := s.clock.now()

	if err := s.verifyOwnerProof(in, now); err != nil {
		return nil, err
	}

	owner := normalizeAddress(in.OwnerAddress)
	signer := normalizeAddress(in.SignerAddress)

	grant := &objects.CapabilityGrant{
		OwnerAddress:  owner,
		SignerAddress: signer,
		UsedToday:     decimal.Zero,
		LastResetDate: s.clock.DayKey(now),
		Status:        objects.GrantStatusActive,
		AgentID:       in.AgentID,
		CreatedAt:     now,
	}

	if onChain {
		if err := s.adoptSession(ctx, grant, in, now); err != nil {
			return nil, err
		}
	} else {
		grant.ID = offChainGrantID(owner, signer, now)
		grant.SingleLimit = in.SingleLimit
		grant.DailyLimit = in.DailyLimit
		grant.ExpiresAt = now.AddDate(0, 0, in.ExpiryDays)
	}

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		tx := s.dbFromContext(ctx)

		var existing []objects.CapabilityGrant
		if err := tx.Where("owner_address = ? AND signer_address = ? AND status = ?", owner, signer, objects.GrantStatusActive).
			Find(&existing).Error; err != nil {
			return err
		}

		for i := range existing {
			if !existing[i].Expired(now) {
				return &ConflictError{Reason: ConflictDuplicate, Msg: fmt.Sprintf("grant %s is already active for this signer", existing[i].ID)}
			}

			if err := s.markExpired(ctx, &existing[i]); err != nil {
				return err
			}
		}

		return tx.Create(grant).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &ConflictError{Reason: ConflictDuplicate, Msg: "an active grant already exists"}
		}

		return nil, err
	}

	log.Info(ctx, "grant created",
		log.String("grant_id", grant.ID),
		log.String("owner", owner),
		log.String("signer", signer),
		log.Bool("on_chain", grant.OnChainBacked),
	)

	return grant, nil
}

func (s *GrantService) validateCreate(in CreateGrantInput, onChain bool) error {
	if !common.IsHexAddress(in.OwnerAddress) {
		return invalid("owner_address", "%q is not a hex address", in.OwnerAddress)
	}

	if !common.IsHexAddress(in.SignerAddress) {
		return invalid("signer_address", "%q is not a hex address", in.SignerAddress)
	}

	if normalizeAddress(in.OwnerAddress) == normalizeAddress(in.SignerAddress) {
		return invalid("signer_address", "must differ from owner")
	}

	if in.OwnerSignature == "" {
		return invalid("owner_signature", "is required")
	}

	if onChain {
		if _, err := parseSessionID(*in.OnChainSessionID); err != nil {
			return err
		}

		if in.SingleLimit.IsNegative() || in.DailyLimit.IsNegative() {
			return invalid("limits", "must not be negative")
		}

		return nil
	}

	if !in.SingleLimit.IsPositive() {
		return invalid("single_limit", "must be positive")
	}

	if !in.DailyLimit.IsPositive() {
		return invalid("daily_limit", "must be positive")
	}

	if in.SingleLimit.GreaterThan(in.DailyLimit) {
		return invalid("single_limit", "must not exceed daily_limit")
	}

	if in.ExpiryDays < 1 || in.ExpiryDays > s.config.MaxExpiryDays {
		return invalid("expiry_days", "must be between 1 and %d", s.config.MaxExpiryDays)
	}

	return nil
}

// verifyOwnerProof checks the owner signed GrantAuthorizationMessage for these exact
// parameters, recently enough to rule out replay of an old authorization.
func (s *GrantService) verifyOwnerProof(in CreateGrantInput, now time.Time) error {
	if in.IssuedAt.IsZero() {
		return invalid("issued_at", "is required")
	}

	if age := now.Sub(in.IssuedAt); age > s.config.ProofMaxAge || age < -s.config.ProofMaxAge {
		return fmt.Errorf("%w: owner authorization issued outside the accepted window", ErrForbidden)
	}

	sig, err := hexutil.Decode(in.OwnerSignature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed owner signature", ErrForbidden)
	}

	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(GrantAuthorizationMessage(in))), sig)
	if err != nil {
		return fmt.Errorf("%w: owner signature does not verify", ErrForbidden)
	}

	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(in.OwnerAddress) {
		return fmt.Errorf("%w: owner signature was not made by %s", ErrForbidden, normalizeAddress(in.OwnerAddress))
	}

	return nil
}

// adoptSession fills grant from the on-chain session, which is authoritative for limits
// and expiry. Caller-supplied limits are allowed only when zero or identical.
func (s *GrantService) adoptSession(ctx context.Context, grant *objects.CapabilityGrant, in CreateGrantInput, now time.Time) error {
	id, _ := parseSessionID(*in.OnChainSessionID)

	session, err := s.sessions.GetSession(ctx, id)
	switch {
	case errors.Is(err, chain.ErrSessionNotFound):
		return invalid("on_chain_session_id", "session %s does not exist", id.Hex())
	case errors.Is(err, chain.ErrSessionManagerDisabled):
		return invalid("on_chain_session_id", "on-chain sessions are not configured")
	case err != nil:
		return err
	}

	if session.Owner != common.HexToAddress(grant.OwnerAddress) {
		return invalid("on_chain_session_id", "session owner %s does not match", session.Owner.Hex())
	}

	if session.Signer != common.HexToAddress(grant.SignerAddress) {
		return invalid("on_chain_session_id", "session signer %s does not match", session.Signer.Hex())
	}

	if !session.Active || !session.Expiry.After(now) {
		return invalid("on_chain_session_id", "session is not active")
	}

	if !in.SingleLimit.IsZero() && !in.SingleLimit.Equal(session.SingleLimit) {
		return invalid("single_limit", "differs from on-chain session limit %s", session.SingleLimit)
	}

	if !in.DailyLimit.IsZero() && !in.DailyLimit.Equal(session.DailyLimit) {
		return invalid("daily_limit", "differs from on-chain session limit %s", session.DailyLimit)
	}

	if !session.SingleLimit.IsPositive() || session.SingleLimit.GreaterThan(session.DailyLimit) {
		return invalid("on_chain_session_id", "session limits are unusable")
	}

	grant.ID = id.Hex()
	grant.OnChainSessionID = lo.ToPtr(id.Hex())
	grant.OnChainBacked = true
	grant.SingleLimit = session.SingleLimit
	grant.DailyLimit = session.DailyLimit
	grant.ExpiresAt = session.Expiry

	return nil
}

func (s *GrantService) GetGrant(ctx context.Context, id string) (*objects.CapabilityGrant, error) {
	var grant objects.CapabilityGrant

	err := s.dbFromContext(ctx).Where("id = ?", id).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("load grant: %w", err)
	}

	return &grant, nil
}

// GetActiveGrant returns the newest active grant of owner, persisting the expiry of any
// stale ones passed on the way.
func (s *GrantService) GetActiveGrant(ctx context.Context, owner string) (*objects.CapabilityGrant, error) {
	var grants []objects.CapabilityGrant

	err := s.dbFromContext(ctx).
		Where("owner_address = ? AND status = ?", normalizeAddress(owner), objects.GrantStatusActive).
		Order("created_at DESC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("list active grants: %w", err)
	}

	now := s.clock.now()

	for i := range grants {
		if !grants[i].Expired(now) {
			return &grants[i], nil
		}

		if err := s.markExpired(ctx, &grants[i]); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: no active grant for %s", ErrNotFound, owner)
}

// ListGrants returns all grants of owner, newest first, with status derived at read time.
func (s *GrantService) ListGrants(ctx context.Context, owner string) ([]*objects.CapabilityGrant, error) {
	var grants []*objects.CapabilityGrant

	err := s.dbFromContext(ctx).
		Where("owner_address = ?", normalizeAddress(owner)).
		Order("created_at DESC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	now := s.clock.now()
	for _, g := range grants {
		g.Status = g.EffectiveStatus(now)
	}

	return grants, nil
}

func (s *GrantService) RevokeGrant(ctx context.Context, owner, grantID string) (*RevokeResult, error) {
	var grant *objects.CapabilityGrant

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error

		grant, err = s.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}

		if grant.OwnerAddress != normalizeAddress(owner) {
			return fmt.Errorf("%w: grant %s belongs to another owner", ErrForbidden, grantID)
		}

		if err := s.ensureActive(ctx, grant); err != nil {
			return err
		}

		now := s.clock.now()

		res := s.dbFromContext(ctx).Model(&objects.CapabilityGrant{}).
			Where("id = ? AND status = ?", grant.ID, objects.GrantStatusActive).
			Updates(map[string]any{
				"status":     objects.GrantStatusRevoked,
				"revoked_at": now,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return &ConflictError{Reason: ConflictRevoked, Msg: "grant is no longer active"}
		}

		grant.Status = objects.GrantStatusRevoked
		grant.RevokedAt = &now
		grant.Version++

		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &RevokeResult{Grant: grant}

	log.Info(ctx, "grant revoked", log.String("grant_id", grant.ID), log.Bool("on_chain", grant.OnChainBacked))

	if !grant.OnChainBacked || grant.OnChainSessionID == nil {
		return result, nil
	}

	txHash, err := s.sessions.RevokeSession(ctx, common.HexToHash(*grant.OnChainSessionID))
	if err != nil {
		log.Warn(ctx, "on-chain session revoke failed", log.String("grant_id", grant.ID), log.Cause(err))

		result.Warning = "grant revoked here, but the on-chain session revoke did not go through; the session may still be callable on-chain until it is revoked there"

		return result, nil
	}

	result.OnChainRevoked = true
	result.OnChainTxHash = txHash.Hex()

	return result, nil
}

// ensureActive returns a ConflictError unless grant is active at now; a stale active grant
// is persisted as expired first.
func (s *GrantService) ensureActive(ctx context.Context, grant *objects.CapabilityGrant) error {
	switch grant.EffectiveStatus(s.clock.now()) {
	case objects.GrantStatusActive:
		return nil
	case objects.GrantStatusRevoked:
		return &ConflictError{Reason: ConflictRevoked, Msg: fmt.Sprintf("grant %s is revoked", grant.ID)}
	default:
		if grant.Status == objects.GrantStatusActive {
			if err := s.markExpired(ctx, grant); err != nil {
				return err
			}
		}

		return &ConflictError{Reason: ConflictExpired, Msg: fmt.Sprintf("grant %s expired at %s", grant.ID, grant.ExpiresAt.Format(time.RFC3339))}
	}
}

func (s *GrantService) markExpired(ctx context.Context, grant *objects.CapabilityGrant) error {
	err := s.dbFromContext(ctx).Model(&objects.CapabilityGrant{}).
		Where("id = ? AND status = ?", grant.ID, objects.GrantStatusActive).
		Updates(map[string]any{
			"status":     objects.GrantStatusExpired,
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.clock.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("expire grant: %w", err)
	}

	grant.Status = objects.GrantStatusExpired
	grant.Version++

	return nil
}

func offChainGrantID(owner, signer string, now time.Time) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.UnixNano()))

	return crypto.Keccak256Hash(
		common.HexToAddress(owner).Bytes(),
		common.HexToAddress(signer).Bytes(),
		ts[:],
	).Hex()
}

func parseSessionID(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, invalid("on_chain_session_id", "must be a 32-byte hex value")
	}

	return common.BytesToHash(b), nil
}

func normalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// SignGrantAuthorization produces the owner signature CreateGrant expects. Wallets do this
// client-side; it is here for tooling and tests.
func SignGrantAuthorization(priv *ecdsa.PrivateKey, in CreateGrantInput) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(GrantAuthorizationMessage(in))), priv)
	if err != nil {
		return "", err
	}

	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig), nil
}
