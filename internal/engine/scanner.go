package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"github.com/kursadbilgin/oncall-engine/internal/observability"
	"github.com/kursadbilgin/oncall-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultScanInterval    = time.Minute
	defaultScanLimit       = 500
	defaultScanConcurrency = 16
)

// AttemptProcessor advances one attempt by one tick.
type AttemptProcessor interface {
	Process(ctx context.Context, attempt domain.EscalationAttempt) error
}

// Scanner drives the escalation engine: every tick it loads the in-progress
// attempts and fans them out to independent processing units. A failing unit
// never blocks its siblings; the tick ends once every unit has settled.
type Scanner struct {
	attempts    repository.AttemptRepository
	processor   AttemptProcessor
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
	concurrency int
}

func NewScanner(
	attempts repository.AttemptRepository,
	processor AttemptProcessor,
	interval time.Duration,
	limit int,
	concurrency int,
	logger *zap.Logger,
) (*Scanner, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("attempt processor is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if concurrency <= 0 {
		concurrency = defaultScanConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		attempts:    attempts,
		processor:   processor,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		concurrency: concurrency,
	}, nil
}

func (s *Scanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs the scan loop until context cancellation. The first scan happens
// on the first ticker edge; the engine does not scan at startup.
func (s *Scanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("escalation scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) error {
	start := time.Now()

	attempts, err := s.attempts.ListInProgress(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list in-progress attempts: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i := range attempts {
		attempt := attempts[i]
		g.Go(func() error {
			s.metrics.IncProcessingInFlight()
			defer s.metrics.DecProcessingInFlight()

			unitCtx := observability.WithAttemptID(ctx, attempt.ID)
			if err := s.processor.Process(unitCtx, attempt); err != nil {
				observability.WithContextLogger(s.logger, unitCtx).Error(
					"attempt processing failed",
					zap.Error(err),
				)
			}
			return nil
		})
	}

	// Units never return errors; Wait is only the all-settled join.
	_ = g.Wait()

	s.metrics.ObserveScanDuration(time.Since(start))
	s.logger.Debug("scan tick finished",
		zap.Int("attempts", len(attempts)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return nil
}
