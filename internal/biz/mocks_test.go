package biz

import (
	"context"
	"time"

	"GuardLane/internal/model"

	"github.com/stretchr/testify/mock"
)

type mockBudgetRepo struct {
	mock.Mock
}

func (m *mockBudgetRepo) Reserve(ctx context.Context, tenantID, projectID, reservationID, requestID string, amount, defaultLimit int64) (bool, error) {
	args := m.Called(ctx, tenantID, projectID, reservationID, requestID, amount, defaultLimit)
	return args.Bool(0), args.Error(1)
}

func (m *mockBudgetRepo) CommitReservation(ctx context.Context, reservationID string, actualTokens int64) (model.CommitStatus, error) {
	args := m.Called(ctx, reservationID, actualTokens)
	return args.Get(0).(model.CommitStatus), args.Error(1)
}

func (m *mockBudgetRepo) ReleaseReservation(ctx context.Context, reservationID string) (model.ReleaseStatus, error) {
	args := m.Called(ctx, reservationID)
	return args.Get(0).(model.ReleaseStatus), args.Error(1)
}

func (m *mockBudgetRepo) FindReservationByRequestID(ctx context.Context, requestID string) (string, int64, bool, error) {
	args := m.Called(ctx, requestID)
	return args.String(0), args.Get(1).(int64), args.Bool(2), args.Error(3)
}

func (m *mockBudgetRepo) GetAccount(ctx context.Context, tenantID, projectID string) (*model.BudgetAccountView, error) {
	args := m.Called(ctx, tenantID, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BudgetAccountView), args.Error(1)
}

func (m *mockBudgetRepo) ListTransactions(ctx context.Context, tenantID, projectID string, limit int) ([]*model.BudgetTransactionView, error) {
	args := m.Called(ctx, tenantID, projectID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.BudgetTransactionView), args.Error(1)
}

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) GetDecision(ctx context.Context, requestID string) (*model.BudgetDecision, bool, error) {
	args := m.Called(ctx, requestID)
	var d *model.BudgetDecision
	if args.Get(0) != nil {
		d = args.Get(0).(*model.BudgetDecision)
	}
	return d, args.Bool(1), args.Error(2)
}

func (m *mockIdempotencyStore) Claim(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, requestID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyStore) PutDecision(ctx context.Context, requestID string, d *model.BudgetDecision, ttl time.Duration) error {
	args := m.Called(ctx, requestID, d, ttl)
	return args.Error(0)
}

func (m *mockIdempotencyStore) ReleaseClaim(ctx context.Context, requestID string) error {
	args := m.Called(ctx, requestID)
	return args.Error(0)
}

type mockDeadLetterRepo struct {
	mock.Mock
}

func (m *mockDeadLetterRepo) Park(ctx context.Context, msg *model.DeadLetterView) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockDeadLetterRepo) Get(ctx context.Context, id string) (*model.DeadLetterView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeadLetterView), args.Error(1)
}

func (m *mockDeadLetterRepo) List(ctx context.Context, includeResolved bool, limit, offset int) ([]*model.DeadLetterView, error) {
	args := m.Called(ctx, includeResolved, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DeadLetterView), args.Error(1)
}

func (m *mockDeadLetterRepo) MarkResolved(ctx context.Context, id, note string, requeued bool) (model.ResolveStatus, error) {
	args := m.Called(ctx, id, note, requeued)
	return args.Get(0).(model.ResolveStatus), args.Error(1)
}

func (m *mockDeadLetterRepo) CountUnresolved(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockRetryQueue struct {
	mock.Mock
}

func (m *mockRetryQueue) Schedule(ctx context.Context, item *model.WorkItem, readyAt time.Time) error {
	args := m.Called(ctx, item, readyAt)
	return args.Error(0)
}

func (m *mockRetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]*model.WorkItem, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WorkItem), args.Error(1)
}

type mockGovernanceRepo struct {
	mock.Mock
}

func (m *mockGovernanceRepo) GetRule(ctx context.Context, role string) (*model.GovernanceRule, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GovernanceRule), args.Error(1)
}

func (m *mockGovernanceRepo) UpsertRule(ctx context.Context, rule *model.GovernanceRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockGovernanceRepo) CountAutoUpdatesSince(ctx context.Context, role string, since time.Time) (int64, error) {
	args := m.Called(ctx, role, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockGovernanceRepo) TryRecordAutoUpdate(ctx context.Context, role string, now time.Time) (bool, string, error) {
	args := m.Called(ctx, role, now)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *mockGovernanceRepo) RecordUpdate(ctx context.Context, role, source, approvedBy string, now time.Time) error {
	args := m.Called(ctx, role, source, approvedBy, now)
	return args.Error(0)
}

func (m *mockGovernanceRepo) PruneUpdateLog(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockGovernanceRepo) CreateApproval(ctx context.Context, req *model.ApprovalRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockGovernanceRepo) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ApprovalRequest), args.Error(1)
}

func (m *mockGovernanceRepo) ListApprovals(ctx context.Context, status model.ApprovalStatus, limit int) ([]*model.ApprovalRequest, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ApprovalRequest), args.Error(1)
}

func (m *mockGovernanceRepo) DecideApproval(ctx context.Context, id string, status model.ApprovalStatus, decidedBy, note string) (bool, error) {
	args := m.Called(ctx, id, status, decidedBy, note)
	return args.Bool(0), args.Error(1)
}

type mockAuditLogger struct {
	mock.Mock
}

func (m *mockAuditLogger) LogCircuitBroken(ctx context.Context, breaker string, failureCount int, openedAt time.Time) {
	m.Called(ctx, breaker, failureCount, openedAt)
}

func (m *mockAuditLogger) LogCircuitRecovered(ctx context.Context, breaker string, openFor time.Duration) {
	m.Called(ctx, breaker, openFor)
}

func (m *mockAuditLogger) LogBreakersReset(ctx context.Context, count int) {
	m.Called(ctx, count)
}

func (m *mockAuditLogger) LogBudgetDeclined(ctx context.Context, tenantID, projectID, requestID, reason string, amount int64) {
	m.Called(ctx, tenantID, projectID, requestID, reason, amount)
}

func (m *mockAuditLogger) LogDeadLetterParked(ctx context.Context, messageID, destination string, attempts int32, lastError string) {
	m.Called(ctx, messageID, destination, attempts, lastError)
}

func (m *mockAuditLogger) LogDeadLetterResolved(ctx context.Context, messageID, note string, requeued bool) {
	m.Called(ctx, messageID, note, requeued)
}

func (m *mockAuditLogger) LogGovernanceDenied(ctx context.Context, role, reason string) {
	m.Called(ctx, role, reason)
}

type mockAlertService struct {
	mock.Mock
}

func (m *mockAlertService) NotifyCircuitBroken(ctx context.Context, event model.CircuitBrokenEvent) {
	m.Called(ctx, event)
}

func (m *mockAlertService) NotifyDeadLetter(ctx context.Context, messageID, destination, lastError string, attempts int32) {
	m.Called(ctx, messageID, destination, lastError, attempts)
}
