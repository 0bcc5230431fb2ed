package repository

import (
	"time"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
)

// AttemptModel is the persistence model for the escalation_attempts table.
type AttemptModel struct {
	ID               string               `gorm:"type:uuid;primaryKey"`
	ProjectID        string               `gorm:"type:uuid;not null"`
	UserID           string               `gorm:"type:uuid;not null"`
	EventID          string               `gorm:"type:uuid;not null"`
	EventType        domain.EventType     `gorm:"type:varchar(32);not null"`
	PolicyID         *string              `gorm:"type:uuid"`
	EscalationRuleID *string              `gorm:"type:uuid"`
	TeamID           *string              `gorm:"type:uuid"`
	Status           domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	FiredRules       domain.FiredRules    `gorm:"serializer:json;type:jsonb;not null"`
	FailureReason    *string              `gorm:"type:text"`
	Version          int                  `gorm:"not null;default:0"`
	StartedAt        time.Time            `gorm:"not null"`
	UpdatedAt        time.Time
}

func (AttemptModel) TableName() string {
	return "escalation_attempts"
}

// RuleModel is the persistence model for the notification_rules table.
type RuleModel struct {
	ID                 string           `gorm:"type:uuid;primaryKey"`
	ProjectID          string           `gorm:"type:uuid;not null"`
	UserID             string           `gorm:"type:uuid;not null"`
	RuleType           domain.RuleType  `gorm:"type:varchar(32);not null"`
	SeverityScope      *domain.Severity `gorm:"type:varchar(16)"`
	NotifyAfterMinutes int              `gorm:"not null;default:0"`
	Channels           []domain.Channel `gorm:"serializer:json;type:jsonb;not null"`
}

func (RuleModel) TableName() string {
	return "notification_rules"
}

// IncidentModel is the read-only persistence view of the incidents table.
type IncidentModel struct {
	ID        string          `gorm:"type:uuid;primaryKey"`
	ProjectID string          `gorm:"type:uuid;not null"`
	Severity  domain.Severity `gorm:"type:varchar(16);not null"`
}

func (IncidentModel) TableName() string {
	return "incidents"
}

// DispatchRecordModel is the persistence model for dispatch_records.
type DispatchRecordModel struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	AttemptID string           `gorm:"type:uuid;not null"`
	RuleID    string           `gorm:"type:uuid;not null"`
	Channels  []domain.Channel `gorm:"serializer:json;type:jsonb;not null"`
	Error     *string          `gorm:"type:text"`
	CreatedAt time.Time
}

func (DispatchRecordModel) TableName() string {
	return "dispatch_records"
}

func attemptModelFromDomain(a *domain.EscalationAttempt) *AttemptModel {
	if a == nil {
		return nil
	}

	return &AttemptModel{
		ID:               a.ID,
		ProjectID:        a.ProjectID,
		UserID:           a.UserID,
		EventID:          a.EventID,
		EventType:        a.EventType,
		PolicyID:         a.PolicyID,
		EscalationRuleID: a.EscalationRuleID,
		TeamID:           a.TeamID,
		Status:           a.Status,
		FiredRules:       a.FiredRules,
		FailureReason:    a.FailureReason,
		Version:          a.Version,
		StartedAt:        a.StartedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func attemptModelToDomain(m *AttemptModel) *domain.EscalationAttempt {
	if m == nil {
		return nil
	}

	fired := m.FiredRules
	if fired == nil {
		fired = domain.FiredRules{}
	}

	return &domain.EscalationAttempt{
		ID:               m.ID,
		ProjectID:        m.ProjectID,
		UserID:           m.UserID,
		EventID:          m.EventID,
		EventType:        m.EventType,
		PolicyID:         m.PolicyID,
		EscalationRuleID: m.EscalationRuleID,
		TeamID:           m.TeamID,
		Status:           m.Status,
		FiredRules:       fired,
		FailureReason:    m.FailureReason,
		Version:          m.Version,
		StartedAt:        m.StartedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func ruleModelToDomain(m *RuleModel) *domain.NotificationRule {
	if m == nil {
		return nil
	}

	return &domain.NotificationRule{
		ID:                 m.ID,
		ProjectID:          m.ProjectID,
		UserID:             m.UserID,
		RuleType:           m.RuleType,
		SeverityScope:      m.SeverityScope,
		NotifyAfterMinutes: m.NotifyAfterMinutes,
		Channels:           m.Channels,
	}
}

func dispatchRecordModelFromDomain(r *domain.DispatchRecord) *DispatchRecordModel {
	if r == nil {
		return nil
	}

	return &DispatchRecordModel{
		ID:        r.ID,
		AttemptID: r.AttemptID,
		RuleID:    r.RuleID,
		Channels:  r.Channels,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
	}
}
