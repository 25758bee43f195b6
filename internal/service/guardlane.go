package service

import (
	"context"
	"time"

	"GuardLane/internal/biz"
	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// GuardLaneService exposes the control-plane operations over the admin
// HTTP surface: budget reserve/commit/release, breaker inspection and
// reset, dead-letter listing and resolution, and governance checks.
type GuardLaneService struct {
	budget     *biz.BudgetUsecase
	dlq        *biz.DeadLetterUsecase
	governance *biz.GovernanceUsecase
	registry   *biz.BreakerRegistry
	logger     *log.Helper
}

// NewGuardLaneService creates the service facade.
func NewGuardLaneService(
	budget *biz.BudgetUsecase,
	dlq *biz.DeadLetterUsecase,
	governance *biz.GovernanceUsecase,
	registry *biz.BreakerRegistry,
	logger log.Logger,
) *GuardLaneService {
	return &GuardLaneService{
		budget:     budget,
		dlq:        dlq,
		governance: governance,
		registry:   registry,
		logger:     log.NewHelper(logger),
	}
}

// RequestTokensRequest is the wire shape of a budget reservation attempt.
type RequestTokensRequest struct {
	TenantID        string `json:"tenant_id"`
	ProjectID       string `json:"project_id"`
	TaskID          string `json:"task_id"`
	Model           string `json:"model"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	RequestID       string `json:"request_id"`
	Purpose         string `json:"purpose,omitempty"`
}

// RequestTokens reserves tokens against the caller's budget account.
func (s *GuardLaneService) RequestTokens(ctx context.Context, req *RequestTokensRequest) (*model.BudgetDecision, error) {
	return s.budget.RequestTokens(ctx, &biz.TokenRequest{
		TenantID:        req.TenantID,
		ProjectID:       req.ProjectID,
		TaskID:          req.TaskID,
		Model:           req.Model,
		EstimatedTokens: req.EstimatedTokens,
		RequestID:       req.RequestID,
		Purpose:         req.Purpose,
	})
}

// CommitUsageRequest finalizes a reservation with actual consumption.
type CommitUsageRequest struct {
	ReservationID string `json:"reservation_id"`
	ActualTokens  int64  `json:"actual_tokens"`
}

// StatusReply carries a single status string.
type StatusReply struct {
	Status string `json:"status"`
}

// CommitUsage finalizes a reservation.
func (s *GuardLaneService) CommitUsage(ctx context.Context, req *CommitUsageRequest) (*StatusReply, error) {
	status, err := s.budget.CommitUsage(ctx, req.ReservationID, req.ActualTokens)
	if err != nil {
		return nil, err
	}
	return &StatusReply{Status: string(status)}, nil
}

// ReleaseReservation undoes a reservation without consuming tokens.
func (s *GuardLaneService) ReleaseReservation(ctx context.Context, reservationID string) (*StatusReply, error) {
	status, err := s.budget.ReleaseReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return &StatusReply{Status: string(status)}, nil
}

// GetAccount returns the live snapshot of one budget account.
func (s *GuardLaneService) GetAccount(ctx context.Context, tenantID, projectID string) (*model.BudgetAccountView, error) {
	return s.budget.GetAccount(ctx, tenantID, projectID)
}

// ListTransactions returns an account's ledger entries, newest first.
func (s *GuardLaneService) ListTransactions(ctx context.Context, tenantID, projectID string, limit int) ([]*model.BudgetTransactionView, error) {
	return s.budget.ListTransactions(ctx, tenantID, projectID, limit)
}

// BreakerStatsReply maps breaker names to their snapshots.
type BreakerStatsReply struct {
	Breakers map[string]model.BreakerStats `json:"breakers"`
}

// BreakerStats returns a snapshot of every registered circuit breaker.
func (s *GuardLaneService) BreakerStats(ctx context.Context) (*BreakerStatsReply, error) {
	return &BreakerStatsReply{Breakers: s.registry.AllStats()}, nil
}

// ResetBreakersReply reports how many breakers were forced CLOSED.
type ResetBreakersReply struct {
	Reset int `json:"reset"`
}

// ResetBreakers forces every breaker back to CLOSED. Administrative
// escape hatch, not automatic recovery.
func (s *GuardLaneService) ResetBreakers(ctx context.Context) (*ResetBreakersReply, error) {
	return &ResetBreakersReply{Reset: s.registry.ResetAll(ctx)}, nil
}

// EnqueueDeadLetterRequest parks a message directly.
type EnqueueDeadLetterRequest struct {
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
	Error       string `json:"error,omitempty"`
}

// EnqueueDeadLetterReply carries the new message id.
type EnqueueDeadLetterReply struct {
	MessageID string `json:"message_id"`
}

// EnqueueDeadLetter parks a message in the dead-letter store.
func (s *GuardLaneService) EnqueueDeadLetter(ctx context.Context, req *EnqueueDeadLetterRequest) (*EnqueueDeadLetterReply, error) {
	id, err := s.dlq.Enqueue(ctx, req.Destination, req.Payload, req.Error)
	if err != nil {
		return nil, err
	}
	return &EnqueueDeadLetterReply{MessageID: id}, nil
}

// ListDeadLetters returns parked messages newest first.
func (s *GuardLaneService) ListDeadLetters(ctx context.Context, includeResolved bool, limit, offset int) ([]*model.DeadLetterView, error) {
	return s.dlq.List(ctx, includeResolved, limit, offset)
}

// GetDeadLetter returns one parked message with its payload decrypted.
func (s *GuardLaneService) GetDeadLetter(ctx context.Context, id string) (*model.DeadLetterView, error) {
	return s.dlq.Get(ctx, id)
}

// ResolveDeadLetterRequest closes a parked message.
type ResolveDeadLetterRequest struct {
	Note    string `json:"note"`
	Requeue bool   `json:"requeue"`
}

// ResolveDeadLetter resolves a parked message, optionally republishing it.
func (s *GuardLaneService) ResolveDeadLetter(ctx context.Context, id string, req *ResolveDeadLetterRequest) (*StatusReply, error) {
	status, err := s.dlq.Resolve(ctx, id, req.Note, req.Requeue)
	if err != nil {
		return nil, err
	}
	return &StatusReply{Status: string(status)}, nil
}

// CanAutoUpdate evaluates the advisory governance check for a role.
func (s *GuardLaneService) CanAutoUpdate(ctx context.Context, role string) (*model.GovernanceDecision, error) {
	return s.governance.CanAutoUpdate(ctx, role)
}

// TryAutoUpdate atomically checks and records an automatic update.
func (s *GuardLaneService) TryAutoUpdate(ctx context.Context, role string) (*model.GovernanceDecision, error) {
	return s.governance.TryAutoUpdate(ctx, role)
}

// RecordUpdate unconditionally records an externally applied update.
func (s *GuardLaneService) RecordUpdate(ctx context.Context, role string) (*StatusReply, error) {
	if err := s.governance.RecordUpdate(ctx, role); err != nil {
		return nil, err
	}
	return &StatusReply{Status: "recorded"}, nil
}

// GetGovernanceRule returns the rule for a role.
func (s *GuardLaneService) GetGovernanceRule(ctx context.Context, role string) (*model.GovernanceRule, error) {
	return s.governance.GetRule(ctx, role)
}

// UpsertGovernanceRuleRequest creates or edits a rule.
type UpsertGovernanceRuleRequest struct {
	Role                  string `json:"role"`
	MaxUpdatesPerDay      int32  `json:"max_updates_per_day"`
	CooldownSeconds       int64  `json:"cooldown_seconds"`
	RequiresHumanApproval bool   `json:"requires_human_approval"`
}

// UpsertGovernanceRule creates or edits a governance rule.
func (s *GuardLaneService) UpsertGovernanceRule(ctx context.Context, req *UpsertGovernanceRuleRequest) (*StatusReply, error) {
	err := s.governance.UpsertRule(ctx, &model.GovernanceRule{
		Role:                  req.Role,
		MaxUpdatesPerDay:      req.MaxUpdatesPerDay,
		CooldownDuration:      time.Duration(req.CooldownSeconds) * time.Second,
		RequiresHumanApproval: req.RequiresHumanApproval,
	})
	if err != nil {
		return nil, err
	}
	return &StatusReply{Status: "upserted"}, nil
}

// RequestApprovalRequest opens a human-approval request.
type RequestApprovalRequest struct {
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
}

// RequestApproval routes a risky update to a human reviewer.
func (s *GuardLaneService) RequestApproval(ctx context.Context, req *RequestApprovalRequest) (*model.ApprovalRequest, error) {
	return s.governance.RequestApproval(ctx, req.Role, req.Description)
}

// DecideApprovalRequest carries a reviewer's decision.
type DecideApprovalRequest struct {
	DecidedBy string `json:"decided_by"`
	Note      string `json:"note,omitempty"`
}

// ApproveUpdate grants a pending approval request.
func (s *GuardLaneService) ApproveUpdate(ctx context.Context, id string, req *DecideApprovalRequest) (*model.ApprovalRequest, error) {
	return s.governance.Approve(ctx, id, req.DecidedBy, req.Note)
}

// RejectUpdate declines a pending approval request.
func (s *GuardLaneService) RejectUpdate(ctx context.Context, id string, req *DecideApprovalRequest) (*model.ApprovalRequest, error) {
	return s.governance.Reject(ctx, id, req.DecidedBy, req.Note)
}

// ListApprovals returns approval requests with the given status.
func (s *GuardLaneService) ListApprovals(ctx context.Context, status model.ApprovalStatus, limit int) ([]*model.ApprovalRequest, error) {
	return s.governance.ListApprovals(ctx, status, limit)
}
