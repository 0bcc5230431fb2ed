package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptStatus represents the lifecycle state of an escalation attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptCompleted  AttemptStatus = "COMPLETED"
	AttemptFailed     AttemptStatus = "FAILED"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptInProgress, AttemptCompleted, AttemptFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transition.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptCompleted || s == AttemptFailed
}

func ParseAttemptStatusFromString(s string) (AttemptStatus, error) {
	st := AttemptStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid attempt status %q", ErrValidation, s)
	}
	return st, nil
}

// FiredRules maps a rule ID to the instant it fired. Entries are only ever
// added; a rule deleted from the catalog keeps its entry for the audit trail.
type FiredRules map[string]time.Time

func (f FiredRules) Has(ruleID string) bool {
	_, ok := f[ruleID]
	return ok
}

// Covers reports whether every rule in the candidate set has already fired.
// An empty candidate set is trivially covered.
func (f FiredRules) Covers(rules []NotificationRule) bool {
	for i := range rules {
		if !f.Has(rules[i].ID) {
			return false
		}
	}
	return true
}

// Clone returns a copy safe to mutate without aliasing the original map.
func (f FiredRules) Clone() FiredRules {
	out := make(FiredRules, len(f))
	for id, at := range f {
		out[id] = at
	}
	return out
}

// EscalationAttempt is one user's in-flight on-call notification process tied
// to a single triggering event. It is created by the upstream alerting flow
// and mutated only by the escalation engine.
type EscalationAttempt struct {
	ID               string
	ProjectID        string
	UserID           string
	EventID          string
	EventType        EventType
	PolicyID         *string
	EscalationRuleID *string
	TeamID           *string
	Status           AttemptStatus
	FiredRules       FiredRules
	FailureReason    *string
	Version          int
	StartedAt        time.Time
	UpdatedAt        time.Time
}

func (a *EscalationAttempt) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: attempt id is required", ErrValidation)
	}
	if a.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if a.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if a.EventID == "" {
		return fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if !a.EventType.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, a.EventType)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid attempt status %q", ErrValidation, a.Status)
	}
	if a.StartedAt.IsZero() {
		return fmt.Errorf("%w: started at is required", ErrValidation)
	}
	return nil
}

// Age returns how long the attempt has been open relative to now.
func (a *EscalationAttempt) Age(now time.Time) time.Duration {
	return now.Sub(a.StartedAt)
}
