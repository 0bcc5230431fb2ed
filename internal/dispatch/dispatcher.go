package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
)

// Dispatcher is the outbound boundary that transmits (or enqueues) the
// email/SMS/call notifications for one due rule. The engine calls Send at most
// once per rule per attempt; delivery beyond this boundary is best effort.
type Dispatcher interface {
	Send(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error
}

// Message is the payload handed to downstream channel workers. Context
// references ride along purely for the audit trail on the receiving side.
type Message struct {
	DispatchID       string    `json:"dispatchId"`
	AttemptID        string    `json:"attemptId"`
	ProjectID        string    `json:"projectId"`
	UserID           string    `json:"userId"`
	EventID          string    `json:"eventId"`
	EventType        string    `json:"eventType"`
	RuleID           string    `json:"ruleId"`
	Channel          string    `json:"channel"`
	PolicyID         *string   `json:"policyId,omitempty"`
	EscalationRuleID *string   `json:"escalationRuleId,omitempty"`
	TeamID           *string   `json:"teamId,omitempty"`
	FiredAt          time.Time `json:"firedAt"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.DispatchID) == "" {
		return fmt.Errorf("dispatchId is required")
	}
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if strings.TrimSpace(m.RuleID) == "" {
		return fmt.Errorf("ruleId is required")
	}
	if _, err := domain.ParseChannelFromString(m.Channel); err != nil {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}

// QueueName returns the channel work queue a message is routed to, e.g.
// notify.sms.
func QueueName(channel domain.Channel) string {
	return "notify." + strings.ToLower(channel.String())
}

// DLQName returns the dead-letter queue name for a channel, e.g.
// dlq.notify.sms.
func DLQName(channel domain.Channel) string {
	return "dlq." + QueueName(channel)
}

// WorkQueueNames returns the work queue for every supported channel.
func WorkQueueNames() []string {
	channels := domain.AllChannels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}
