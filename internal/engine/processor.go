package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/oncall-engine/internal/dispatch"
	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"github.com/kursadbilgin/oncall-engine/internal/observability"
	"github.com/kursadbilgin/oncall-engine/internal/repository"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultMaxPendingAge = 24 * time.Hour

// errSkipTick marks conditions that leave the attempt untouched so the next
// tick retries it: a not-yet-visible triggering event or a lost claim.
var errSkipTick = errors.New("attempt skipped this tick")

// Resolver maps an attempt to the rule type and severity used to select its
// candidate rules.
type Resolver interface {
	Resolve(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error)
}

// Processor advances a single escalation attempt by one tick: resolve the
// rule scope, compute due rules, dispatch each once, and persist the result.
type Processor struct {
	attempts      repository.AttemptRepository
	rules         repository.RuleRepository
	resolver      Resolver
	dispatcher    dispatch.Dispatcher
	records       repository.DispatchRecordRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	maxPendingAge time.Duration
	now           func() time.Time
}

func NewProcessor(
	attempts repository.AttemptRepository,
	rules repository.RuleRepository,
	resolver Resolver,
	dispatcher dispatch.Dispatcher,
	records repository.DispatchRecordRepository,
	maxPendingAge time.Duration,
	logger *zap.Logger,
) (*Processor, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if maxPendingAge <= 0 {
		maxPendingAge = defaultMaxPendingAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		attempts:      attempts,
		rules:         rules,
		resolver:      resolver,
		dispatcher:    dispatcher,
		records:       records,
		logger:        logger,
		maxPendingAge: maxPendingAge,
		now:           time.Now,
	}, nil
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Process runs one tick for one attempt. A returned error means the attempt
// was transitioned to FAILED (or the transition itself failed); transient
// conditions are absorbed and retried on the next tick.
func (p *Processor) Process(ctx context.Context, attempt domain.EscalationAttempt) error {
	log := p.logger.With(zap.String("attemptId", attempt.ID))

	err := p.tick(ctx, attempt, log)
	if err == nil {
		return nil
	}
	if errors.Is(err, errSkipTick) {
		log.Debug("attempt left for next tick", zap.Error(err))
		return nil
	}

	// Fatal: the attempt goes terminal and is never re-scanned. The message
	// is persisted for operator visibility.
	if markErr := p.attempts.MarkFailed(ctx, attempt.ID, err.Error()); markErr != nil {
		log.Error("failed to mark attempt as failed", zap.Error(markErr))
		return multierr.Append(err, markErr)
	}

	p.metrics.IncAttemptFailed()
	log.Error("attempt failed", zap.Error(err))
	return err
}

func (p *Processor) tick(ctx context.Context, attempt domain.EscalationAttempt, log *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing attempt: %v", r)
		}
	}()

	now := p.now().UTC()

	ruleType, severity, err := p.resolver.Resolve(ctx, attempt)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if attempt.Age(now) > p.maxPendingAge {
				return fmt.Errorf("triggering event %s still not visible after %s: %w", attempt.EventID, p.maxPendingAge, err)
			}
			return fmt.Errorf("%w: %v", errSkipTick, err)
		}
		return err
	}

	candidates, err := p.rules.ListForUser(ctx, attempt.ProjectID, attempt.UserID, ruleType, severity)
	if err != nil {
		return fmt.Errorf("failed to load rule catalog: %w", err)
	}

	due := Due(candidates, attempt.FiredRules, attempt.StartedAt, now)
	if len(due) == 0 && !attempt.FiredRules.Covers(candidates) {
		return nil
	}

	claimed, err := p.attempts.Claim(ctx, attempt.ID, attempt.Version)
	if err != nil {
		return fmt.Errorf("failed to claim attempt: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: lost claim to a concurrent tick", errSkipTick)
	}
	claimedVersion := attempt.Version + 1

	fired := attempt.FiredRules.Clone()
	for i := range due {
		rule := due[i]
		sendErr := p.dispatcher.Send(ctx, rule, attempt)

		// Fired on dispatch attempt, not on delivery: at most once per rule.
		fired[rule.ID] = now
		p.metrics.IncRuleFired(ruleType.String())
		p.recordDispatch(ctx, attempt.ID, rule, sendErr, now, log)

		if sendErr != nil {
			p.metrics.IncDispatchFailed(ruleType.String(), dispatch.IsTransient(sendErr))
			log.Warn("dispatch failed, rule recorded as fired",
				zap.String("ruleId", rule.ID),
				zap.Bool("transient", dispatch.IsTransient(sendErr)),
				zap.Error(sendErr),
			)
		}
	}

	status := domain.AttemptInProgress
	if fired.Covers(candidates) {
		status = domain.AttemptCompleted
	}

	updated, err := p.attempts.RecordFirings(ctx, attempt.ID, claimedVersion, fired, status)
	if err != nil {
		return fmt.Errorf("failed to record firings: %w", err)
	}
	if !updated {
		// The claim should make this impossible; treat it as a lost race.
		return fmt.Errorf("%w: version conflict on write", errSkipTick)
	}

	if status == domain.AttemptCompleted {
		p.metrics.IncAttemptCompleted()
		log.Info("attempt completed",
			zap.Int("rulesFired", len(fired)),
			zap.Int("candidateRules", len(candidates)),
		)
	}

	return nil
}

func (p *Processor) recordDispatch(
	ctx context.Context,
	attemptID string,
	rule domain.NotificationRule,
	sendErr error,
	at time.Time,
	log *zap.Logger,
) {
	if p.records == nil {
		return
	}

	var recErr *string
	if sendErr != nil {
		value := sendErr.Error()
		recErr = &value
	}

	record := &domain.DispatchRecord{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		RuleID:    rule.ID,
		Channels:  rule.Channels,
		Error:     recErr,
		CreatedAt: at,
	}

	if err := p.records.Create(ctx, record); err != nil {
		log.Error("failed to write dispatch record",
			zap.String("ruleId", rule.ID),
			zap.Error(err),
		)
	}
}
