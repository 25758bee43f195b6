package biz

import (
	"context"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Update sources recorded in the per-role update log. Only auto updates
// count against the daily cap; approved updates bypass the gate once but
// still reset the cooldown clock.
const (
	UpdateSourceAuto     = "auto"
	UpdateSourceApproved = "approved"
	UpdateSourceExternal = "external"
)

// GovernanceRepo is the durable store for per-role rules, the update log,
// and human-approval requests. TryRecordAutoUpdate is the atomic
// check-then-record primitive: two concurrent callers for one role can
// never both observe "allowed" past the daily cap.
type GovernanceRepo interface {
	// GetRule returns the rule for role, or nil if none is seeded.
	GetRule(ctx context.Context, role string) (*model.GovernanceRule, error)

	// UpsertRule creates or edits a rule (administrative operation).
	UpsertRule(ctx context.Context, rule *model.GovernanceRule) error

	// CountAutoUpdatesSince counts auto-applied updates for role after since.
	CountAutoUpdatesSince(ctx context.Context, role string, since time.Time) (int64, error)

	// TryRecordAutoUpdate atomically re-checks the cooldown and daily cap
	// and, if both pass, records the update. It returns allowed=false with
	// a denial reason when either gate blocks.
	TryRecordAutoUpdate(ctx context.Context, role string, now time.Time) (allowed bool, reason string, err error)

	// RecordUpdate unconditionally sets last_update_at for role and
	// appends an update-log row with the given source.
	RecordUpdate(ctx context.Context, role, source, approvedBy string, now time.Time) error

	// PruneUpdateLog deletes update-log rows older than before and
	// returns how many were removed.
	PruneUpdateLog(ctx context.Context, before time.Time) (int64, error)

	// CreateApproval persists a pending human-approval request.
	CreateApproval(ctx context.Context, req *model.ApprovalRequest) error

	// GetApproval returns one approval request, or nil if unknown.
	GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)

	// ListApprovals returns requests with the given status, newest first.
	ListApprovals(ctx context.Context, status model.ApprovalStatus, limit int) ([]*model.ApprovalRequest, error)

	// DecideApproval transitions a pending request to approved/rejected.
	// It returns false when the request was already decided.
	DecideApproval(ctx context.Context, id string, status model.ApprovalStatus, decidedBy, note string) (bool, error)
}

// GovernanceUsecase bounds the rate of automatic learning updates per
// actor role and routes risky updates to human approval. Denials are
// returned as decisions, never as errors.
type GovernanceUsecase struct {
	repo   GovernanceRepo
	audit  AuditLogger
	logger *log.Helper
}

// NewGovernanceUsecase creates the governance limiter.
func NewGovernanceUsecase(repo GovernanceRepo, audit AuditLogger, logger log.Logger) *GovernanceUsecase {
	return &GovernanceUsecase{
		repo:   repo,
		audit:  audit,
		logger: log.NewHelper(logger),
	}
}

// CanAutoUpdate is the advisory read-only check: it evaluates the role's
// rule against recent history without recording anything. Callers that
// will actually apply an update must use TryAutoUpdate instead, which
// performs the same check atomically with the record.
func (uc *GovernanceUsecase) CanAutoUpdate(ctx context.Context, role string) (*model.GovernanceDecision, error) {
	rule, err := uc.getRule(ctx, role)
	if err != nil {
		return nil, err
	}

	if rule.RequiresHumanApproval {
		return &model.GovernanceDecision{Allowed: false, Reason: model.GovernanceReasonApprovalRequired}, nil
	}

	now := time.Now()
	if rule.LastUpdateAt != nil && now.Sub(*rule.LastUpdateAt) < rule.CooldownDuration {
		return &model.GovernanceDecision{Allowed: false, Reason: model.GovernanceReasonCooldown}, nil
	}

	count, err := uc.repo.CountAutoUpdatesSince(ctx, role, now.Add(-24*time.Hour))
	if err != nil {
		return nil, newStorageError(err)
	}
	if count >= int64(rule.MaxUpdatesPerDay) {
		return &model.GovernanceDecision{Allowed: false, Reason: model.GovernanceReasonDailyCapReached}, nil
	}

	return &model.GovernanceDecision{Allowed: true}, nil
}

// TryAutoUpdate atomically checks the role's gates and records the update
// when allowed. This is the path agents use before self-modifying: the
// check and the record are serialized per role, so concurrent callers
// cannot jointly exceed the daily cap.
func (uc *GovernanceUsecase) TryAutoUpdate(ctx context.Context, role string) (*model.GovernanceDecision, error) {
	rule, err := uc.getRule(ctx, role)
	if err != nil {
		return nil, err
	}

	if rule.RequiresHumanApproval {
		uc.denied(ctx, role, model.GovernanceReasonApprovalRequired)
		return &model.GovernanceDecision{Allowed: false, Reason: model.GovernanceReasonApprovalRequired}, nil
	}

	allowed, reason, err := uc.repo.TryRecordAutoUpdate(ctx, role, time.Now())
	if err != nil {
		return nil, newStorageError(err)
	}
	if !allowed {
		uc.denied(ctx, role, reason)
		return &model.GovernanceDecision{Allowed: false, Reason: reason}, nil
	}

	uc.logger.Infow("msg", "auto update recorded", "role", role)
	return &model.GovernanceDecision{Allowed: true}, nil
}

// RecordUpdate unconditionally marks an update for role, for callers that
// applied one through an external path. It resets the cooldown clock.
func (uc *GovernanceUsecase) RecordUpdate(ctx context.Context, role string) error {
	if role == "" {
		return newValidationError("role is required")
	}
	if err := uc.repo.RecordUpdate(ctx, role, UpdateSourceExternal, "", time.Now()); err != nil {
		return newStorageError(err)
	}
	return nil
}

// GetRule returns the governance rule for role.
func (uc *GovernanceUsecase) GetRule(ctx context.Context, role string) (*model.GovernanceRule, error) {
	return uc.getRule(ctx, role)
}

// UpsertRule creates or edits a rule.
func (uc *GovernanceUsecase) UpsertRule(ctx context.Context, rule *model.GovernanceRule) error {
	if rule == nil || rule.Role == "" {
		return newValidationError("rule with a role is required")
	}
	if rule.MaxUpdatesPerDay < 0 || rule.CooldownDuration < 0 {
		return newValidationError("rule limits must be non-negative")
	}

	if err := uc.repo.UpsertRule(ctx, rule); err != nil {
		return newStorageError(err)
	}
	uc.logger.Infow(
		"msg", "governance rule upserted",
		"role", rule.Role,
		"max_updates_per_day", rule.MaxUpdatesPerDay,
		"cooldown", rule.CooldownDuration.String(),
		"requires_human_approval", rule.RequiresHumanApproval,
	)
	return nil
}

// RequestApproval opens a human-approval request for an update that failed
// (or would fail) the automatic check.
func (uc *GovernanceUsecase) RequestApproval(ctx context.Context, role, description string) (*model.ApprovalRequest, error) {
	if role == "" {
		return nil, newValidationError("role is required")
	}
	if _, err := uc.getRule(ctx, role); err != nil {
		return nil, err
	}

	req := &model.ApprovalRequest{
		ID:          uuid.NewString(),
		Role:        role,
		Description: description,
		Status:      model.ApprovalPending,
		RequestedAt: time.Now(),
	}
	if err := uc.repo.CreateApproval(ctx, req); err != nil {
		return nil, newStorageError(err)
	}

	uc.logger.Infow(
		"msg", "human approval requested",
		"approval_id", req.ID,
		"role", role,
	)
	return req, nil
}

// Approve grants a pending request. The update is recorded for cooldown
// and audit purposes but bypasses the daily-cap/cooldown gate for this
// one instance.
func (uc *GovernanceUsecase) Approve(ctx context.Context, id, decidedBy, note string) (*model.ApprovalRequest, error) {
	return uc.decide(ctx, id, model.ApprovalApproved, decidedBy, note)
}

// Reject declines a pending request.
func (uc *GovernanceUsecase) Reject(ctx context.Context, id, decidedBy, note string) (*model.ApprovalRequest, error) {
	return uc.decide(ctx, id, model.ApprovalRejected, decidedBy, note)
}

func (uc *GovernanceUsecase) decide(ctx context.Context, id string, status model.ApprovalStatus, decidedBy, note string) (*model.ApprovalRequest, error) {
	if id == "" || decidedBy == "" {
		return nil, newValidationError("approval id and decided_by are required")
	}

	req, err := uc.repo.GetApproval(ctx, id)
	if err != nil {
		return nil, newStorageError(err)
	}
	if req == nil {
		return nil, errors.New(404, ReasonUnknownRecord, "approval request not found")
	}

	decided, err := uc.repo.DecideApproval(ctx, id, status, decidedBy, note)
	if err != nil {
		return nil, newStorageError(err)
	}
	if !decided {
		return nil, errors.New(409, "APPROVAL_ALREADY_DECIDED", "approval request already decided")
	}

	if status == model.ApprovalApproved {
		if err := uc.repo.RecordUpdate(ctx, req.Role, UpdateSourceApproved, decidedBy, time.Now()); err != nil {
			return nil, newStorageError(err)
		}
	}

	uc.logger.Infow(
		"msg", "approval request decided",
		"approval_id", id,
		"status", string(status),
		"decided_by", decidedBy,
	)

	return uc.repo.GetApproval(ctx, id)
}

// ListApprovals returns approval requests with the given status.
func (uc *GovernanceUsecase) ListApprovals(ctx context.Context, status model.ApprovalStatus, limit int) ([]*model.ApprovalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	reqs, err := uc.repo.ListApprovals(ctx, status, limit)
	if err != nil {
		return nil, newStorageError(err)
	}
	return reqs, nil
}

// PruneUpdateLog removes update-log rows past the retention window. Run
// periodically by the cron job.
func (uc *GovernanceUsecase) PruneUpdateLog(ctx context.Context, retention time.Duration) (int64, error) {
	// Never prune inside the trailing 24h window the daily cap reads.
	if retention < 24*time.Hour {
		retention = 24 * time.Hour
	}

	removed, err := uc.repo.PruneUpdateLog(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, newStorageError(err)
	}
	if removed > 0 {
		uc.logger.Infow("msg", "governance update log pruned", "removed", removed)
	}
	return removed, nil
}

func (uc *GovernanceUsecase) getRule(ctx context.Context, role string) (*model.GovernanceRule, error) {
	if role == "" {
		return nil, newValidationError("role is required")
	}

	rule, err := uc.repo.GetRule(ctx, role)
	if err != nil {
		return nil, newStorageError(err)
	}
	if rule == nil {
		return nil, errors.New(404, ReasonUnknownRecord, "no governance rule for role: "+role)
	}
	return rule, nil
}

func (uc *GovernanceUsecase) denied(ctx context.Context, role, reason string) {
	uc.logger.Warnw(
		"msg", "auto update denied",
		"role", role,
		"reason", reason,
	)
	if uc.audit != nil {
		uc.audit.LogGovernanceDenied(ctx, role, reason)
	}
}
