package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"github.com/kursadbilgin/oncall-engine/internal/ratelimit"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

// AMQPDispatcher enqueues one delivery message per rule channel onto the
// per-channel notify queues. Downstream channel workers own the actual
// email/SMS/call transmission.
type AMQPDispatcher struct {
	client  *RabbitMQ
	limiter ratelimit.RateLimiter
	now     func() time.Time
}

// NewAMQPDispatcher builds a queue-backed dispatcher. The limiter is optional;
// nil means no throttling.
func NewAMQPDispatcher(client *RabbitMQ, limiter ratelimit.RateLimiter) (*AMQPDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("rabbitmq client is required")
	}

	return &AMQPDispatcher{
		client:  client,
		limiter: limiter,
		now:     time.Now,
	}, nil
}

func (d *AMQPDispatcher) Send(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("dispatcher is not initialized")
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	firedAt := d.now().UTC()

	var sendErr error
	for _, channel := range rule.Channels {
		if err := d.publishChannel(ctx, rule, attempt, channel, firedAt); err != nil {
			sendErr = multierr.Append(sendErr, err)
		}
	}

	return sendErr
}

func (d *AMQPDispatcher) publishChannel(
	ctx context.Context,
	rule domain.NotificationRule,
	attempt domain.EscalationAttempt,
	channel domain.Channel,
	firedAt time.Time,
) error {
	channelName := strings.ToLower(channel.String())

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, channelName); err != nil {
			return fmt.Errorf("rate limiter wait failed for channel %s: %w", channelName, err)
		}
	}

	msg := Message{
		DispatchID:       uuid.NewString(),
		AttemptID:        attempt.ID,
		ProjectID:        attempt.ProjectID,
		UserID:           attempt.UserID,
		EventID:          attempt.EventID,
		EventType:        attempt.EventType.String(),
		RuleID:           rule.ID,
		Channel:          channel.String(),
		PolicyID:         attempt.PolicyID,
		EscalationRuleID: attempt.EscalationRuleID,
		TeamID:           attempt.TeamID,
		FiredAt:          firedAt,
	}

	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	ch, err := d.client.channel(ctx)
	if err != nil {
		return &DispatchError{Message: "failed to open rabbitmq channel", Transient: true, Cause: err}
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     firedAt,
		MessageId:     msg.DispatchID,
		CorrelationId: attempt.ID,
		Body:          payload,
	}

	queueName := QueueName(channel)
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, publishing); err != nil {
		return &DispatchError{
			Message:   fmt.Sprintf("failed to publish to queue %q", queueName),
			Transient: true,
			Cause:     err,
		}
	}

	return nil
}
