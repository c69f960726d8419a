package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/pkg/xtime"
)

type DenyReason string

const (
	DenyStrategyNotAllowed       DenyReason = "strategy_not_allowed"
	DenyAmountExceedsStrategyCap DenyReason = "amount_exceeds_strategy_cap"
	DenyFrequencyExceeded        DenyReason = "frequency_exceeded"
	DenyTokenNotAllowed          DenyReason = "token_not_allowed"
	DenyVenueNotAllowed          DenyReason = "venue_not_allowed"
)

type UpsertPermissionInput struct {
	GrantID         string                  `json:"grant_id"`
	StrategyType    string                  `json:"strategy_type"`
	Allowed         bool                    `json:"allowed"`
	MaxAmount       decimal.NullDecimal     `json:"max_amount"`
	MaxFrequency    *int                    `json:"max_frequency,omitempty"`
	FrequencyPeriod objects.FrequencyPeriod `json:"frequency_period,omitempty"`
	AllowedTokens   []string                `json:"allowed_tokens,omitempty"`
	AllowedVenues   []string                `json:"allowed_venues,omitempty"`
	RiskLimits      json.RawMessage         `json:"risk_limits,omitempty"`
}

type EvaluateInput struct {
	StrategyType       string
	Amount             decimal.Decimal
	Token              string
	Venue              string
	CurrentWindowCount int64
}

type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// Err returns nil for an allowing decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}

	return &PolicyDeniedError{Reason: d.Reason}
}

type StrategyPolicyServiceParams struct {
	fx.In

	DB    *gorm.DB
	Clock *Clock
}

type StrategyPolicyService struct {
	*AbstractService

	clock *Clock
}

func NewStrategyPolicyService(params StrategyPolicyServiceParams) *StrategyPolicyService {
	return &StrategyPolicyService{
		AbstractService: &AbstractService{db: params.DB},
		clock:           params.Clock,
	}
}

// UpsertPermission creates or replaces the permission for (grant, strategy type).
// Repeating the same input leaves exactly one row with the same content.
func (s *StrategyPolicyService) UpsertPermission(ctx context.Context, owner string, in UpsertPermissionInput) (*objects.StrategyPermission, error) {
	if err := validatePermission(&in); err != nil {
		return nil, err
	}

	var grant objects.CapabilityGrant

	err := s.dbFromContext(ctx).Select("id", "owner_address").Where("id = ?", in.GrantID).Take(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: grant %s", ErrNotFound, in.GrantID)
		}

		return nil, fmt.Errorf("load grant: %w", err)
	}

	if grant.OwnerAddress != normalizeAddress(owner) {
		return nil, fmt.Errorf("%w: grant %s belongs to another owner", ErrForbidden, in.GrantID)
	}

	now := s.clock.now()

	perm := &objects.StrategyPermission{
		ID:              uuid.NewString(),
		GrantID:         in.GrantID,
		StrategyType:    in.StrategyType,
		Allowed:         in.Allowed,
		MaxAmount:       in.MaxAmount,
		MaxFrequency:    in.MaxFrequency,
		FrequencyPeriod: in.FrequencyPeriod,
		AllowedTokens:   in.AllowedTokens,
		AllowedVenues:   in.AllowedVenues,
		RiskLimits:      in.RiskLimits,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.dbFromContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "grant_id"}, {Name: "strategy_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"allowed", "max_amount", "max_frequency", "frequency_period",
			"allowed_tokens", "allowed_venues", "risk_limits", "updated_at",
		}),
	}).Create(perm).Error
	if err != nil {
		return nil, fmt.Errorf("upsert strategy permission: %w", err)
	}

	// The conflict path keeps the original id, so read back the stored row.
	var stored objects.StrategyPermission
	if err := s.dbFromContext(ctx).
		Where("grant_id = ? AND strategy_type = ?", in.GrantID, in.StrategyType).
		Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload strategy permission: %w", err)
	}

	log.Debug(ctx, "strategy permission upserted",
		log.String("grant_id", in.GrantID),
		log.String("strategy_type", in.StrategyType),
		log.Bool("allowed", in.Allowed),
	)

	return &stored, nil
}

func (s *StrategyPolicyService) ListPermissions(ctx context.Context, grantID string) ([]*objects.StrategyPermission, error) {
	var perms []*objects.StrategyPermission

	err := s.dbFromContext(ctx).Where("grant_id = ?", grantID).Order("strategy_type").Find(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("list strategy permissions: %w", err)
	}

	return perms, nil
}

func validatePermission(in *UpsertPermissionInput) error {
	in.StrategyType = strings.TrimSpace(in.StrategyType)

	if in.GrantID == "" {
		return invalid("grant_id", "is required")
	}

	if in.StrategyType == "" {
		return invalid("strategy_type", "is required")
	}

	if in.MaxAmount.Valid && !in.MaxAmount.Decimal.IsPositive() {
		return invalid("max_amount", "must be positive")
	}

	if in.MaxFrequency != nil && *in.MaxFrequency < 0 {
		return invalid("max_frequency", "must not be negative")
	}

	if in.FrequencyPeriod == "" {
		in.FrequencyPeriod = objects.FrequencyPeriodDay
	}

	if !in.FrequencyPeriod.Valid() {
		return invalid("frequency_period", "must be hour or day")
	}

	for _, token := range in.AllowedTokens {
		if !common.IsHexAddress(token) {
			return invalid("allowed_tokens", "%q is not a hex address", token)
		}
	}

	in.AllowedTokens = lo.Uniq(lo.Map(in.AllowedTokens, func(t string, _ int) string { return normalizeAddress(t) }))
	in.AllowedVenues = lo.Uniq(in.AllowedVenues)

	return nil
}

// PermissionFor returns the row governing strategyType, and whether the grant has any
// permission rows at all.
func PermissionFor(perms []*objects.StrategyPermission, strategyType string) (*objects.StrategyPermission, bool) {
	perm, _ := lo.Find(perms, func(p *objects.StrategyPermission) bool { return p.StrategyType == strategyType })

	return perm, len(perms) > 0
}

// Evaluate decides whether one action is allowed by the grant's permission rows.
// A grant without rows allows everything. Once any row exists, strategy types without
// a row are denied.
func Evaluate(perms []*objects.StrategyPermission, in EvaluateInput) Decision {
	perm, restricted := PermissionFor(perms, in.StrategyType)
	if !restricted {
		return allow()
	}

	if perm == nil || !perm.Allowed {
		return deny(DenyStrategyNotAllowed)
	}

	if perm.MaxAmount.Valid && in.Amount.GreaterThan(perm.MaxAmount.Decimal) {
		return deny(DenyAmountExceedsStrategyCap)
	}

	if len(perm.AllowedTokens) > 0 {
		token := in.Token
		if token != "" {
			token = normalizeAddress(token)
		}

		if !lo.ContainsBy(perm.AllowedTokens, func(t string) bool { return strings.EqualFold(t, token) }) {
			return deny(DenyTokenNotAllowed)
		}
	}

	if len(perm.AllowedVenues) > 0 && !lo.Contains(perm.AllowedVenues, in.Venue) {
		return deny(DenyVenueNotAllowed)
	}

	if perm.MaxFrequency != nil && in.CurrentWindowCount >= int64(*perm.MaxFrequency) {
		return deny(DenyFrequencyExceeded)
	}

	return allow()
}

// FrequencyWindowStart is the start of the calendar hour or day containing now in loc.
func FrequencyWindowStart(now time.Time, period objects.FrequencyPeriod, loc *time.Location) time.Time {
	if period == objects.FrequencyPeriodHour {
		return xtime.Hour(now, loc).Start
	}

	return xtime.Day(now, loc).Start
}
