package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
	"github.com/kursadbilgin/oncall-engine/internal/repository"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAttempt() domain.EscalationAttempt {
	return domain.EscalationAttempt{
		ID:         "attempt-1",
		ProjectID:  "project-1",
		UserID:     "user-1",
		EventID:    "incident-1",
		EventType:  domain.EventIncidentTriggered,
		Status:     domain.AttemptInProgress,
		FiredRules: domain.FiredRules{},
		Version:    3,
		StartedAt:  testStart,
	}
}

func newTestProcessor(
	t *testing.T,
	attempts *fakeAttemptRepo,
	rules *fakeRuleRepo,
	res *fakeResolver,
	disp *fakeDispatcher,
	records *fakeDispatchRecordRepo,
) *Processor {
	t.Helper()

	var recordRepo repository.DispatchRecordRepository
	if records != nil {
		recordRepo = records
	}

	p, err := NewProcessor(attempts, rules, res, disp, recordRepo, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	p.now = func() time.Time { return testStart.Add(5 * time.Minute) }
	return p
}

func incidentResolver(severity domain.Severity) *fakeResolver {
	return &fakeResolver{
		resolveFn: func(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error) {
			return domain.RuleTypeIncidentOnCall, &severity, nil
		},
	}
}

func TestProcessorFiresDueRulesAndStaysInProgress(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "r0", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
				{ID: "r5", NotifyAfterMinutes: 5, Channels: []domain.Channel{domain.ChannelSMS}},
				{ID: "r30", NotifyAfterMinutes: 30, Channels: []domain.Channel{domain.ChannelCall}},
			}, nil
		},
	}

	var claimedVersion int
	var recordedFired domain.FiredRules
	var recordedStatus domain.AttemptStatus
	var recordedVersion int
	attempts := &fakeAttemptRepo{
		claimFn: func(ctx context.Context, id string, version int) (bool, error) {
			claimedVersion = version
			return true, nil
		},
		recordFn: func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
			recordedVersion = version
			recordedFired = fired
			recordedStatus = status
			return true, nil
		},
	}

	disp := &fakeDispatcher{}
	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), disp, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := disp.sentRuleIDs(); len(got) != 2 || got[0] != "r0" || got[1] != "r5" {
		t.Fatalf("dispatched rules = %v, want [r0 r5]", got)
	}
	if claimedVersion != attempt.Version {
		t.Errorf("claimed version = %d, want %d", claimedVersion, attempt.Version)
	}
	if recordedVersion != attempt.Version+1 {
		t.Errorf("write version = %d, want %d", recordedVersion, attempt.Version+1)
	}
	if !recordedFired.Has("r0") || !recordedFired.Has("r5") {
		t.Errorf("fired rules = %v, want r0 and r5", recordedFired)
	}
	if recordedFired.Has("r30") {
		t.Error("r30 should not have fired yet")
	}
	if recordedStatus != domain.AttemptInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", recordedStatus)
	}
}

func TestProcessorCompletesWhenAllRulesFired(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "only", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	var recordedStatus domain.AttemptStatus
	attempts := &fakeAttemptRepo{
		recordFn: func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
			recordedStatus = status
			return true, nil
		},
	}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityHigh), &fakeDispatcher{}, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if recordedStatus != domain.AttemptCompleted {
		t.Fatalf("status = %s, want COMPLETED", recordedStatus)
	}
}

func TestProcessorDispatchFailureStillCountsAsFired(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "broken", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelSMS}},
				{ID: "healthy", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	var recordedFired domain.FiredRules
	var recordedStatus domain.AttemptStatus
	attempts := &fakeAttemptRepo{
		recordFn: func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
			recordedFired = fired
			recordedStatus = status
			return true, nil
		},
	}

	disp := &fakeDispatcher{
		sendFn: func(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error {
			if rule.ID == "broken" {
				return errors.New("provider rejected the message")
			}
			return nil
		},
	}
	records := &fakeDispatchRecordRepo{}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), disp, records)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !recordedFired.Has("broken") || !recordedFired.Has("healthy") {
		t.Fatalf("fired rules = %v, want both broken and healthy", recordedFired)
	}
	if recordedStatus != domain.AttemptCompleted {
		t.Errorf("status = %s, want COMPLETED", recordedStatus)
	}

	if len(records.created) != 2 {
		t.Fatalf("dispatch records = %d, want 2", len(records.created))
	}
	for _, rec := range records.created {
		if rec.RuleID == "broken" && rec.Error == nil {
			t.Error("broken rule should carry the dispatch error")
		}
		if rec.RuleID == "healthy" && rec.Error != nil {
			t.Errorf("healthy rule should have no error, got %q", *rec.Error)
		}
	}
}

func TestProcessorRuleCatalogErrorMarksFailed(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return nil, errors.New("connection refused")
		},
	}

	var failedReason string
	attempts := &fakeAttemptRepo{
		failFn: func(ctx context.Context, id string, reason string) error {
			failedReason = reason
			return nil
		},
	}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityLow), &fakeDispatcher{}, nil)

	if err := p.Process(context.Background(), attempt); err == nil {
		t.Fatal("Process() should surface the failure")
	}
	if !strings.Contains(failedReason, "connection refused") {
		t.Fatalf("failure reason = %q, want it to mention the cause", failedReason)
	}
}

func TestProcessorTransientIncidentLookupSkips(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	res := &fakeResolver{
		resolveFn: func(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error) {
			return "", nil, fmt.Errorf("failed to resolve severity: %w", domain.ErrNotFound)
		},
	}

	claimCalled := false
	failCalled := false
	attempts := &fakeAttemptRepo{
		claimFn: func(ctx context.Context, id string, version int) (bool, error) {
			claimCalled = true
			return true, nil
		},
		failFn: func(ctx context.Context, id string, reason string) error {
			failCalled = true
			return nil
		},
	}

	p := newTestProcessor(t, attempts, &fakeRuleRepo{}, res, &fakeDispatcher{}, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v, want nil for transient skip", err)
	}
	if claimCalled {
		t.Error("attempt should not be claimed when the event is not yet visible")
	}
	if failCalled {
		t.Error("attempt should not be failed while within the pending age bound")
	}
}

func TestProcessorStalePendingAttemptFails(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	res := &fakeResolver{
		resolveFn: func(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error) {
			return "", nil, fmt.Errorf("failed to resolve severity: %w", domain.ErrNotFound)
		},
	}

	failCalled := false
	attempts := &fakeAttemptRepo{
		failFn: func(ctx context.Context, id string, reason string) error {
			failCalled = true
			return nil
		},
	}

	p := newTestProcessor(t, attempts, &fakeRuleRepo{}, res, &fakeDispatcher{}, nil)
	p.now = func() time.Time { return testStart.Add(25 * time.Hour) }

	if err := p.Process(context.Background(), attempt); err == nil {
		t.Fatal("Process() should fail an attempt whose event never appeared")
	}
	if !failCalled {
		t.Fatal("attempt should be marked FAILED after the pending age bound")
	}
}

func TestProcessorLostClaimSkipsTick(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "r0", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	attempts := &fakeAttemptRepo{
		claimFn: func(ctx context.Context, id string, version int) (bool, error) {
			return false, nil
		},
	}

	disp := &fakeDispatcher{}
	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), disp, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v, want nil for lost claim", err)
	}
	if len(disp.sentRuleIDs()) != 0 {
		t.Fatal("nothing should be dispatched after losing the claim")
	}
}

func TestProcessorNothingDueNoWrite(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "r30", NotifyAfterMinutes: 30, Channels: []domain.Channel{domain.ChannelCall}},
			}, nil
		},
	}

	claimCalled := false
	attempts := &fakeAttemptRepo{
		claimFn: func(ctx context.Context, id string, version int) (bool, error) {
			claimCalled = true
			return true, nil
		},
	}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), &fakeDispatcher{}, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if claimCalled {
		t.Fatal("no claim should happen when nothing is due and the attempt is incomplete")
	}
}

func TestProcessorDeletedRuleDoesNotWedgeCompletion(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	attempt.FiredRules = domain.FiredRules{
		"kept":    testStart,
		"deleted": testStart,
	}

	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "kept", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	var recordedStatus domain.AttemptStatus
	var recordedFired domain.FiredRules
	attempts := &fakeAttemptRepo{
		recordFn: func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
			recordedStatus = status
			recordedFired = fired
			return true, nil
		},
	}

	disp := &fakeDispatcher{}
	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), disp, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(disp.sentRuleIDs()) != 0 {
		t.Fatal("already-fired rules must not be dispatched again")
	}
	if recordedStatus != domain.AttemptCompleted {
		t.Fatalf("status = %s, want COMPLETED", recordedStatus)
	}
	if !recordedFired.Has("deleted") {
		t.Fatal("the entry for the deleted rule must be preserved")
	}
}

func TestProcessorPanicMarksFailed(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "r0", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	failCalled := false
	attempts := &fakeAttemptRepo{
		failFn: func(ctx context.Context, id string, reason string) error {
			failCalled = true
			return nil
		},
	}

	disp := &fakeDispatcher{
		sendFn: func(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error {
			panic("nil provider handle")
		},
	}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), disp, nil)

	if err := p.Process(context.Background(), attempt); err == nil {
		t.Fatal("Process() should surface the recovered panic as an error")
	}
	if !failCalled {
		t.Fatal("a panicking tick must mark the attempt FAILED")
	}
}

func TestProcessorWriteConflictSkipsTick(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "r0", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	failCalled := false
	attempts := &fakeAttemptRepo{
		recordFn: func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
			return false, nil
		},
		failFn: func(ctx context.Context, id string, reason string) error {
			failCalled = true
			return nil
		},
	}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), &fakeDispatcher{}, nil)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v, want nil for a lost write race", err)
	}
	if failCalled {
		t.Fatal("a lost write race must not fail the attempt")
	}
}

func TestProcessorAuditWriteFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	attempt := newTestAttempt()
	rules := &fakeRuleRepo{
		listFn: func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
			return []domain.NotificationRule{
				{ID: "r0", NotifyAfterMinutes: 0, Channels: []domain.Channel{domain.ChannelEmail}},
			}, nil
		},
	}

	var recordedStatus domain.AttemptStatus
	attempts := &fakeAttemptRepo{
		recordFn: func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
			recordedStatus = status
			return true, nil
		},
	}

	records := &fakeDispatchRecordRepo{
		createFn: func(ctx context.Context, rec *domain.DispatchRecord) error {
			return errors.New("audit table unavailable")
		},
	}

	p := newTestProcessor(t, attempts, rules, incidentResolver(domain.SeverityCritical), &fakeDispatcher{}, records)

	if err := p.Process(context.Background(), attempt); err != nil {
		t.Fatalf("Process() error = %v, audit failures must not block progress", err)
	}
	if recordedStatus != domain.AttemptCompleted {
		t.Fatalf("status = %s, want COMPLETED", recordedStatus)
	}
}

type fakeAttemptRepo struct {
	listFn   func(ctx context.Context, limit int) ([]domain.EscalationAttempt, error)
	claimFn  func(ctx context.Context, id string, version int) (bool, error)
	recordFn func(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error)
	failFn   func(ctx context.Context, id string, reason string) error
}

func (f *fakeAttemptRepo) ListInProgress(ctx context.Context, limit int) ([]domain.EscalationAttempt, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, limit)
}

func (f *fakeAttemptRepo) Claim(ctx context.Context, id string, version int) (bool, error) {
	if f.claimFn == nil {
		return true, nil
	}
	return f.claimFn(ctx, id, version)
}

func (f *fakeAttemptRepo) RecordFirings(ctx context.Context, id string, version int, fired domain.FiredRules, status domain.AttemptStatus) (bool, error) {
	if f.recordFn == nil {
		return true, nil
	}
	return f.recordFn(ctx, id, version, fired, status)
}

func (f *fakeAttemptRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	if f.failFn == nil {
		return nil
	}
	return f.failFn(ctx, id, reason)
}

type fakeRuleRepo struct {
	listFn func(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error)
}

func (f *fakeRuleRepo) ListForUser(ctx context.Context, projectID, userID string, ruleType domain.RuleType, severity *domain.Severity) ([]domain.NotificationRule, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, projectID, userID, ruleType, severity)
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, attempt domain.EscalationAttempt) (domain.RuleType, *domain.Severity, error) {
	if f.resolveFn == nil {
		sev := domain.SeverityCritical
		return domain.RuleTypeIncidentOnCall, &sev, nil
	}
	return f.resolveFn(ctx, attempt)
}

type fakeDispatcher struct {
	sendFn func(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error
	sent   []domain.NotificationRule
}

func (f *fakeDispatcher) Send(ctx context.Context, rule domain.NotificationRule, attempt domain.EscalationAttempt) error {
	f.sent = append(f.sent, rule)
	if f.sendFn == nil {
		return nil
	}
	return f.sendFn(ctx, rule, attempt)
}

func (f *fakeDispatcher) sentRuleIDs() []string {
	ids := make([]string, 0, len(f.sent))
	for i := range f.sent {
		ids = append(ids, f.sent[i].ID)
	}
	return ids
}

type fakeDispatchRecordRepo struct {
	createFn func(ctx context.Context, rec *domain.DispatchRecord) error
	created  []domain.DispatchRecord
}

func (f *fakeDispatchRecordRepo) Create(ctx context.Context, rec *domain.DispatchRecord) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, rec); err != nil {
			return err
		}
	}
	f.created = append(f.created, *rec)
	return nil
}

func (f *fakeDispatchRecordRepo) GetByAttemptID(ctx context.Context, attemptID string) ([]domain.DispatchRecord, error) {
	out := make([]domain.DispatchRecord, 0, len(f.created))
	for i := range f.created {
		if f.created[i].AttemptID == attemptID {
			out = append(out, f.created[i])
		}
	}
	return out, nil
}
