package repository

import (
	"context"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"gorm.io/gorm"
)

// RuleRepository is the read-only rule catalog. The engine never writes rules;
// they are owned by the settings UI and re-read fresh every tick so edits are
// picked up automatically.
type RuleRepository interface {
	ListForUser(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error)
}

type GormRuleRepo struct {
	db *gorm.DB
}

func NewGormRuleRepo(db *gorm.DB) *GormRuleRepo {
	return &GormRuleRepo{db: db}
}

// ListForUser returns every rule matching the rule type that is either
// unscoped or scoped to the given severity, in ascending delay order.
func (r *GormRuleRepo) ListForUser(
	ctx context.Context,
	projectID, userID string,
	ruleType domain.RuleType,
	severity *domain.Severity,
) ([]domain.NotificationRule, error) {
	query := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND rule_type = ?", projectID, userID, ruleType)

	if severity != nil {
		query = query.Where("severity_scope IS NULL OR severity_scope = ?", *severity)
	} else {
		query = query.Where("severity_scope IS NULL")
	}

	var models []RuleModel
	if err := query.Order("notify_after_minutes ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	rules := make([]domain.NotificationRule, 0, len(models))
	for i := range models {
		rules = append(rules, *ruleModelToDomain(&models[i]))
	}

	return rules, nil
}
