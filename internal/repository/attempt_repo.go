package repository

import (
	"context"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the execution state store for escalation attempts.
//
// Claim and RecordFirings implement optimistic concurrency on the version
// column: a write only succeeds against the version the caller read, so two
// overlapping scan ticks can never both process the same attempt.
type AttemptRepository interface {
	ListInProgress(ctx context.Context, limit int) ([]domain.EscalationAttempt, error)
	Claim(ctx context.Context, id string, version int) (bool, error)
	RecordFirings(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) error
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) ListInProgress(ctx context.Context, limit int) ([]domain.EscalationAttempt, error) {
	var models []AttemptModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.AttemptInProgress).
		Order("started_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.EscalationAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

// Claim bumps the attempt version from the value the caller read. A false
// return means another tick got there first (or the attempt went terminal);
// the caller must skip the attempt for this tick.
func (r *GormAttemptRepo) Claim(ctx context.Context, id string, version int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&AttemptModel{}).
		Where("id = ? AND version = ? AND status = ?", id, version, domain.AttemptInProgress).
		Update("version", gorm.Expr("version + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RecordFirings persists the fired-rule set and the resulting status against
// the claimed version. The fired map only ever grows; callers pass the merged
// set, never a partial delta.
func (r *GormAttemptRepo) RecordFirings(
	ctx context.Context,
	id string,
	version int,
	fired domain.FiredRules,
	status domain.AttemptStatus,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&AttemptModel{}).
		Where("id = ? AND version = ? AND status = ?", id, version, domain.AttemptInProgress).
		Updates(map[string]any{
			"fired_rules": fired,
			"status":      status,
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkFailed transitions an in-progress attempt to FAILED with the captured
// reason. Terminal attempts are left untouched; failing to fail is not an
// error worth surfacing beyond the store error itself.
func (r *GormAttemptRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.db.WithContext(ctx).
		Model(&AttemptModel{}).
		Where("id = ? AND status = ?", id, domain.AttemptInProgress).
		Updates(map[string]any{
			"status":         domain.AttemptFailed,
			"failure_reason": reason,
			"version":        gorm.Expr("version + 1"),
		}).Error
}
