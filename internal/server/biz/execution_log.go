package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/objects"
)

type ExecutionLogParams struct {
	fx.In

	DB    *gorm.DB
	Clock *Clock
}

// ExecutionLog is the append-only audit trail of execute attempts. A record is
// written once and only a pending record may be resolved afterwards.
type ExecutionLog struct {
	*AbstractService

	clock *Clock
}

func NewExecutionLog(params ExecutionLogParams) *ExecutionLog {
	return &ExecutionLog{
		AbstractService: &AbstractService{db: params.DB},
		clock:           params.Clock,
	}
}

func (l *ExecutionLog) Record(ctx context.Context, rec *objects.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = l.clock.now()
	}

	if rec.Status.Terminal() && rec.ResolvedAt == nil {
		rec.ResolvedAt = lo.ToPtr(rec.ExecutedAt)
	}

	if err := l.dbFromContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record execution: %w", err)
	}

	return nil
}

// CountInWindow counts the attempts of strategyType on grantID since the window start that
// used or may still use capacity, which are successful and pending ones.
func (l *ExecutionLog) CountInWindow(ctx context.Context, grantID, strategyType string, since time.Time) (int64, error) {
	var count int64

	err := l.dbFromContext(ctx).Model(&objects.ExecutionRecord{}).
		Where("grant_id = ? AND strategy_type = ? AND executed_at >= ?", grantID, strategyType, since).
		Where("status IN ?", []objects.ExecutionStatus{objects.ExecutionStatusSuccess, objects.ExecutionStatusPending}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}

	return count, nil
}

func (l *ExecutionLog) ListByGrant(ctx context.Context, grantID string, limit int) ([]*objects.ExecutionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []*objects.ExecutionRecord

	err := l.dbFromContext(ctx).
		Where("grant_id = ?", grantID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	return records, nil
}

// ListPending returns pending records executed before olderThan, oldest first.
func (l *ExecutionLog) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*objects.ExecutionRecord, error) {
	var records []*objects.ExecutionRecord

	err := l.dbFromContext(ctx).
		Where("status = ? AND executed_at < ?", objects.ExecutionStatusPending, olderThan).
		Order("executed_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list pending executions: %w", err)
	}

	return records, nil
}

// Resolve moves a pending record to a terminal status. It reports false when the record
// was already resolved by someone else.
func (l *ExecutionLog) Resolve(ctx context.Context, id string, status objects.ExecutionStatus, errCode, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, invalid("status", "%s is not terminal", status)
	}

	updates := map[string]any{
		"status":      status,
		"resolved_at": l.clock.now(),
	}

	if errCode != "" {
		updates["error_code"] = errCode
	}

	if errMsg != "" {
		updates["error_message"] = errMsg
	}

	res := l.dbFromContext(ctx).Model(&objects.ExecutionRecord{}).
		Where("id = ? AND status = ?", id, objects.ExecutionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("resolve execution: %w", res.Error)
	}

	return res.RowsAffected == 1, nil
}
