package repository

import (
	"context"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"gorm.io/gorm"
)

// DispatchRecordRepository appends dispatch audit rows. Best effort: a failed
// audit write never blocks escalation progress.
type DispatchRecordRepository interface {
	Create(ctx context.Context, rec *domain.DispatchRecord) error
	GetByAttemptID(ctx context.Context, attemptID string) ([]domain.DispatchRecord, error)
}

type GormDispatchRecordRepo struct {
	db *gorm.DB
}

func NewGormDispatchRecordRepo(db *gorm.DB) *GormDispatchRecordRepo {
	return &GormDispatchRecordRepo{db: db}
}

func (r *GormDispatchRecordRepo) Create(ctx context.Context, rec *domain.DispatchRecord) error {
	model := dispatchRecordModelFromDomain(rec)
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormDispatchRecordRepo) GetByAttemptID(ctx context.Context, attemptID string) ([]domain.DispatchRecord, error) {
	var models []DispatchRecordModel
	err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DispatchRecord, 0, len(models))
	for i := range models {
		m := models[i]
		records = append(records, domain.DispatchRecord{
			ID:        m.ID,
			AttemptID: m.AttemptID,
			RuleID:    m.RuleID,
			Channels:  m.Channels,
			Error:     m.Error,
			CreatedAt: m.CreatedAt,
		})
	}

	return records, nil
}
