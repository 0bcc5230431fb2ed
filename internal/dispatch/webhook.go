package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"github.com/kursadbilgin/oncall-engine/internal/ratelimit"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	DispatchID       string   `json:"dispatchId"`
	AttemptID        string   `json:"attemptId"`
	ProjectID        string   `json:"projectId"`
	UserID           string   `json:"userId"`
	EventID          string   `json:"eventId"`
	EventType        string   `json:"eventType"`
	RuleID           string   `json:"ruleId"`
	Channels         []string `json:"channels"`
	PolicyID         *string  `json:"policyId,omitempty"`
	EscalationRuleID *string  `json:"escalationRuleId,omitempty"`
	TeamID           *string  `json:"teamId,omitempty"`
}

// WebhookDispatcher posts one dispatch request per rule to an HTTP
// notification bridge that fans it out to the rule's channels. Useful for
// deployments without a broker.
type WebhookDispatcher struct {
	client   *resty.Client
	endpoint string
	limiter  ratelimit.RateLimiter
}

func NewWebhookDispatcher(endpoint string, limiter ratelimit.RateLimiter) (*WebhookDispatcher, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookDispatcherWithClient(endpoint, limiter, client)
}

func NewWebhookDispatcherWithClient(endpoint string, limiter ratelimit.RateLimiter, client *resty.Client) (*WebhookDispatcher, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookDispatcher{
		client:   client,
		endpoint: trimmedEndpoint,
		limiter:  limiter,
	}, nil
}

func (d *WebhookDispatcher) Send(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("dispatcher is not initialized")
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	channels := make([]string, 0, len(rule.Channels))
	for _, ch := range rule.Channels {
		channelName := strings.ToLower(ch.String())
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, channelName); err != nil {
				return fmt.Errorf("rate limiter wait failed for channel %s: %w", channelName, err)
			}
		}
		channels = append(channels, channelName)
	}

	reqBody := webhookRequest{
		DispatchID:       uuid.NewString(),
		AttemptID:        attempt.ID,
		ProjectID:        attempt.ProjectID,
		UserID:           attempt.UserID,
		EventID:          attempt.EventID,
		EventType:        attempt.EventType.String(),
		RuleID:           rule.ID,
		Channels:         channels,
		PolicyID:         attempt.PolicyID,
		EscalationRuleID: attempt.EscalationRuleID,
		TeamID:           attempt.TeamID,
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(d.endpoint)
	if err != nil {
		return &DispatchError{
			Message:   "bridge request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &DispatchError{
			Message:   "bridge returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &DispatchError{
		StatusCode: statusCode,
		Message:    bridgeErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func bridgeErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("bridge returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
