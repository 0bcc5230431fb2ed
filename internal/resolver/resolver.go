package resolver

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"github.com/kursadbilgin/oncall-engine/internal/repository"
)

// RuleTypeFor maps an attempt's event type to the rule type that partitions
// the notification rule catalog. The mapping is total over valid event types;
// an unknown value is a programming error surfaced as domain.ErrValidation.
func RuleTypeFor(eventType domain.EventType) (domain.RuleType, error) {
	switch eventType {
	case domain.EventIncidentTriggered:
		return domain.RuleTypeIncidentOnCall, nil
	case domain.EventMonitorDown:
		return domain.RuleTypeMonitorOnCall, nil
	default:
		return "", fmt.Errorf("%w: no rule type mapped for event type %q", domain.ErrValidation, eventType)
	}
}

// Resolver turns an attempt into the (rule type, severity) pair used to select
// candidate rules. The severity comes from the triggering incident; a missing
// incident is reported as domain.ErrNotFound so the caller can treat it as
// transient rather than terminal.
type Resolver struct {
	incidents repository.IncidentRepository
}

func NewResolver(incidents repository.IncidentRepository) (*Resolver, error) {
	if incidents == nil {
		return nil, fmt.Errorf("incident repository is required")
	}
	return &Resolver{incidents: incidents}, nil
}

func (r *Resolver) Resolve(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error) {
	ruleType, err := RuleTypeFor(attempt.EventType)
	if err != nil {
		return "", nil, err
	}

	severity, err := r.incidents.GetSeverity(ctx, attempt.EventID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve severity for event %s: %w", attempt.EventID, err)
	}

	return ruleType, &severity, nil
}
