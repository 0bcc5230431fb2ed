package domain

import (
	"fmt"
	"strings"
)

// RuleType partitions the notification rule catalog by the family of events
// a rule applies to.
type RuleType string

const (
	RuleTypeIncidentOnCall RuleType = "INCIDENT_ON_CALL"
	RuleTypeMonitorOnCall  RuleType = "MONITOR_ON_CALL"
)

func (t RuleType) String() string { return string(t) }

func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeIncidentOnCall, RuleTypeMonitorOnCall:
		return true
	}
	return false
}

func ParseRuleTypeFromString(s string) (RuleType, error) {
	rt := RuleType(strings.ToUpper(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("%w: invalid rule type %q", ErrValidation, s)
	}
	return rt, nil
}

// Channel represents a delivery channel a rule notifies through.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelCall  Channel = "CALL"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelCall:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// AllChannels lists every supported delivery channel.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelCall}
}

// NotificationRule is a user's configured notification preference: notify me
// through these channels once this many minutes have elapsed since the attempt
// started. Rules are owned and edited elsewhere; the engine reads them fresh
// every tick.
type NotificationRule struct {
	ID                 string
	ProjectID          string
	UserID             string
	RuleType           RuleType
	SeverityScope      *Severity
	NotifyAfterMinutes int
	Channels           []Channel
}

func (r *NotificationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrValidation)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !r.RuleType.IsValid() {
		return fmt.Errorf("%w: invalid rule type %q", ErrValidation, r.RuleType)
	}
	if r.SeverityScope != nil && !r.SeverityScope.IsValid() {
		return fmt.Errorf("%w: invalid severity scope %q", ErrValidation, *r.SeverityScope)
	}
	if r.NotifyAfterMinutes < 0 {
		return fmt.Errorf("%w: notify after minutes must be non-negative (got %d)", ErrValidation, r.NotifyAfterMinutes)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	return nil
}

// AppliesTo reports whether the rule matches the given severity. A rule with
// no severity scope applies to every severity of its type.
func (r *NotificationRule) AppliesTo(severity *Severity) bool {
	if r.SeverityScope == nil {
		return true
	}
	if severity == nil {
		return false
	}
	return *r.SeverityScope == *severity
}
