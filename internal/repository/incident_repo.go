package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"gorm.io/gorm"
)

// IncidentRepository exposes the single field the engine needs from the
// triggering event: its severity. A domain.ErrNotFound result is transient
// from the engine's point of view (the event may not be visible yet).
type IncidentRepository interface {
	GetSeverity(ctx context.Context, incidentID string) (domain.Severity, error)
}

type GormIncidentRepo struct {
	db *gorm.DB
}

func NewGormIncidentRepo(db *gorm.DB) *GormIncidentRepo {
	return &GormIncidentRepo{db: db}
}

func (r *GormIncidentRepo) GetSeverity(ctx context.Context, incidentID string) (domain.Severity, error) {
	var model IncidentModel
	err := r.db.WithContext(ctx).
		Select("id", "severity").
		First(&model, "id = ?", incidentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Severity, nil
}
