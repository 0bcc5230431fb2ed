package domain

import "time"

// DispatchRecord is the audit row written for every dispatch attempt,
// regardless of whether the downstream send succeeded.
type DispatchRecord struct {
	ID        string
	AttemptID string
	RuleID    string
	Channels  []Channel
	Error     *string
	CreatedAt time.Time
}
