package domain

import (
	"fmt"
	"strings"
)

// EventType identifies the kind of alerting event that opened an attempt.
type EventType string

const (
	EventIncidentTriggered EventType = "INCIDENT_TRIGGERED"
	EventMonitorDown       EventType = "MONITOR_DOWN"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventIncidentTriggered, EventMonitorDown:
		return true
	}
	return false
}

func ParseEventTypeFromString(s string) (EventType, error) {
	et := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !et.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return et, nil
}

// Severity is the incident severity used to scope notification rules.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

func (s Severity) String() string { return string(s) }

func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

func ParseSeverityFromString(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: invalid severity %q", ErrValidation, s)
	}
	return sev, nil
}

// Incident is the read-only view of a triggering event the engine needs:
// just enough to scope the rule catalog by severity.
type Incident struct {
	ID        string
	ProjectID string
	Severity  Severity
}
