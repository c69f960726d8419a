package biz

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/objects"
)

// Reservation is spend held against a grant for the ledger period it was taken in.
type Reservation struct {
	GrantID string          `json:"grant_id"`
	Amount  decimal.Decimal `json:"amount"`
	Period  string          `json:"period"`
}

type SpendLedgerParams struct {
	fx.In

	Config LedgerConfig
	DB     *gorm.DB
	Clock  *Clock
}

// SpendLedger tracks used_today on the grant row. Every write is a compare-and-set on
// the row version, so concurrent writers can never commit over each other.
type SpendLedger struct {
	*AbstractService

	config LedgerConfig
	clock  *Clock
}

func NewSpendLedger(params SpendLedgerParams) *SpendLedger {
	return &SpendLedger{
		AbstractService: &AbstractService{db: params.DB},
		config:          params.Config.withDefaults(),
		clock:           params.Clock,
	}
}

// CheckAndReserve adds amount to the grant's usage for the current period, resetting a
// previous period's usage first. Single and daily limits are checked in that order and a
// failed check leaves the row untouched.
func (l *SpendLedger) CheckAndReserve(ctx context.Context, grantID string, amount decimal.Decimal) (Reservation, error) {
	if !amount.IsPositive() {
		return Reservation{}, invalid("amount", "must be positive")
	}

	for attempt := 1; attempt <= l.config.MaxCASAttempts; attempt++ {
		grant, err := l.load(ctx, grantID)
		if err != nil {
			return Reservation{}, err
		}

		now := l.clock.now()

		switch grant.EffectiveStatus(now) {
		case objects.GrantStatusActive:
		case objects.GrantStatusRevoked:
			return Reservation{}, &ConflictError{Reason: ConflictRevoked, Msg: fmt.Sprintf("grant %s is revoked", grantID)}
		default:
			return Reservation{}, &ConflictError{Reason: ConflictExpired, Msg: fmt.Sprintf("grant %s is expired", grantID)}
		}

		period := l.clock.DayKey(now)

		used := grant.UsedToday
		if grant.LastResetDate != period {
			used = decimal.Zero
		}

		if amount.GreaterThan(grant.SingleLimit) {
			return Reservation{}, &LimitExceededError{Kind: LimitSingle, Limit: grant.SingleLimit, Requested: amount}
		}

		if used.Add(amount).GreaterThan(grant.DailyLimit) {
			return Reservation{}, &LimitExceededError{Kind: LimitDaily, Limit: grant.DailyLimit, Requested: used.Add(amount)}
		}

		ok, err := l.compareAndSet(ctx, grant, used.Add(amount), period)
		if err != nil {
			return Reservation{}, err
		}

		if ok {
			return Reservation{GrantID: grantID, Amount: amount, Period: period}, nil
		}

		log.Debug(ctx, "ledger reserve lost compare-and-set", log.String("grant_id", grantID), log.Int("attempt", attempt))
	}

	return Reservation{}, &ConflictError{Reason: ConflictConcurrentUpdate, Msg: fmt.Sprintf("grant %s is being updated concurrently", grantID)}
}

// Rollback releases res. Usage never drops below zero, and a reservation from a period
// that has since rolled over is already gone, so nothing is written.
func (l *SpendLedger) Rollback(ctx context.Context, res Reservation) error {
	if !res.Amount.IsPositive() {
		return nil
	}

	for attempt := 1; attempt <= l.config.MaxCASAttempts; attempt++ {
		grant, err := l.load(ctx, res.GrantID)
		if err != nil {
			return err
		}

		if grant.LastResetDate != res.Period {
			log.Debug(ctx, "ledger rollback skipped for rolled over period",
				log.String("grant_id", res.GrantID),
				log.String("period", res.Period),
			)

			return nil
		}

		used := decimal.Max(grant.UsedToday.Sub(res.Amount), decimal.Zero)

		ok, err := l.compareAndSet(ctx, grant, used, grant.LastResetDate)
		if err != nil {
			return err
		}

		if ok {
			return nil
		}
	}

	return &ConflictError{Reason: ConflictConcurrentUpdate, Msg: fmt.Sprintf("rollback on grant %s kept losing to concurrent updates", res.GrantID)}
}

func (l *SpendLedger) load(ctx context.Context, grantID string) (*objects.CapabilityGrant, error) {
	var grant objects.CapabilityGrant

	err := l.dbFromContext(ctx).Where("id = ?", grantID).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: grant %s", ErrNotFound, grantID)
	}

	if err != nil {
		return nil, fmt.Errorf("load grant: %w", err)
	}

	return &grant, nil
}

func (l *SpendLedger) compareAndSet(ctx context.Context, grant *objects.CapabilityGrant, used decimal.Decimal, period string) (bool, error) {
	res := l.dbFromContext(ctx).Model(&objects.CapabilityGrant{}).
		Where("id = ? AND version = ?", grant.ID, grant.Version).
		Updates(map[string]any{
			"used_today":      used,
			"last_reset_date": period,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      l.clock.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("update ledger: %w", res.Error)
	}

	return res.RowsAffected == 1, nil
}
