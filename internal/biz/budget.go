package biz

import (
	"context"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"
	pkgerrors "GuardLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Error reasons surfaced by the budget controller. Declined decisions are
// data, not errors; these cover caller mistakes and infrastructure faults.
const (
	ReasonValidationError = "VALIDATION_ERROR"
	ReasonStorageError    = "STORAGE_ERROR"
	ReasonUnknownRecord   = "UNKNOWN_RECORD"
)

func newValidationError(msg string) error {
	return errors.New(400, ReasonValidationError, msg)
}

func newStorageError(err error) error {
	return errors.New(500, ReasonStorageError, "storage failure: "+err.Error())
}

// TokenRequest carries one budget reservation attempt. RequestID is the
// caller-generated idempotency key: retransmissions with the same
// RequestID always receive the original decision.
type TokenRequest struct {
	TenantID        string `validate:"required,max=64"`
	ProjectID       string `validate:"required,max=64"`
	TaskID          string `validate:"required,max=128"`
	Model           string `validate:"required,max=128"`
	EstimatedTokens int64  `validate:"required,gt=0"`
	RequestID       string `validate:"required,max=128"`
	Purpose         string `validate:"omitempty,max=255"`
}

// BudgetRepo is the durable ledger behind the controller. Every mutation
// is atomic at the storage level: a reserve either fully applies (account
// update plus ledger row) or leaves no trace.
type BudgetRepo interface {
	// Reserve atomically holds amount against the (tenant, project)
	// account if used + reserved + amount <= total_limit, creating the
	// account with defaultLimit on first use. It returns false without
	// error when headroom is insufficient.
	Reserve(ctx context.Context, tenantID, projectID, reservationID, requestID string, amount, defaultLimit int64) (bool, error)

	// CommitReservation moves the reservation's actual usage from
	// reserved to used, releasing any unused remainder. Idempotent: a
	// second commit is a no-op reporting already_committed.
	CommitReservation(ctx context.Context, reservationID string, actualTokens int64) (model.CommitStatus, error)

	// ReleaseReservation returns the full reserved amount to headroom.
	// Idempotent under repeated calls.
	ReleaseReservation(ctx context.Context, reservationID string) (model.ReleaseStatus, error)

	// FindReservationByRequestID looks up a prior reserve transaction by
	// idempotency key. The ledger is the source of truth when the
	// idempotency cache has expired.
	FindReservationByRequestID(ctx context.Context, requestID string) (reservationID string, amount int64, found bool, err error)

	// GetAccount returns a snapshot of one account, or nil if it was
	// never created.
	GetAccount(ctx context.Context, tenantID, projectID string) (*model.BudgetAccountView, error)

	// ListTransactions returns the account's ledger entries, newest first.
	ListTransactions(ctx context.Context, tenantID, projectID string, limit int) ([]*model.BudgetTransactionView, error)
}

// IdempotencyStore deduplicates retried requests across all controller
// instances. Claim must be atomic insert-if-absent so two simultaneous
// identical requests cannot both fall through to the ledger.
type IdempotencyStore interface {
	// GetDecision returns the cached decision for a request, if present.
	GetDecision(ctx context.Context, requestID string) (*model.BudgetDecision, bool, error)

	// Claim atomically marks requestID as in-flight. It returns false
	// when another caller already holds the claim or a decision exists.
	Claim(ctx context.Context, requestID string, ttl time.Duration) (bool, error)

	// PutDecision stores the decision under requestID, replacing the
	// in-flight claim.
	PutDecision(ctx context.Context, requestID string, d *model.BudgetDecision, ttl time.Duration) error

	// ReleaseClaim drops an in-flight claim after an infrastructure
	// failure so the caller's retry is not locked out.
	ReleaseClaim(ctx context.Context, requestID string) error
}

// duplicateWaitInterval and duplicateWaitMax bound how long a caller that
// lost the claim race waits for the winner's decision to appear.
const (
	duplicateWaitInterval = 50 * time.Millisecond
	duplicateWaitMax      = 2 * time.Second
)

// BudgetUsecase is the idempotent budget controller: it composes the
// idempotency store and the durable ledger to offer exactly-once
// reserve/commit/release semantics.
type BudgetUsecase struct {
	repo     BudgetRepo
	idem     IdempotencyStore
	audit    AuditLogger
	validate *validator.Validate
	logger   *log.Helper

	defaultLimit int64
	decisionTTL  time.Duration
}

// NewBudgetUsecase creates the budget controller.
func NewBudgetUsecase(c *conf.Budget, repo BudgetRepo, idem IdempotencyStore, audit AuditLogger, logger log.Logger) *BudgetUsecase {
	decisionTTL := 5 * time.Minute
	if c != nil && c.DecisionTtl != nil && c.DecisionTtl.AsDuration() > 0 {
		decisionTTL = c.DecisionTtl.AsDuration()
	}
	var defaultLimit int64 = 1_000_000
	if c != nil && c.DefaultAccountLimit > 0 {
		defaultLimit = c.DefaultAccountLimit
	}

	return &BudgetUsecase{
		repo:         repo,
		idem:         idem,
		audit:        audit,
		validate:     validator.New(),
		logger:       log.NewHelper(logger),
		defaultLimit: defaultLimit,
		decisionTTL:  decisionTTL,
	}
}

// RequestTokens reserves EstimatedTokens against the caller's account.
//
// The exactly-once guarantee: a cached decision is returned unchanged for
// any retransmission of the same RequestID; on a cache miss, headroom is
// checked and taken in a single atomic storage operation, so concurrent
// distinct requests can never jointly overcommit the account.
//
// Declined requests (insufficient funds) come back as ordinary decisions
// with Approved=false, never as errors.
func (uc *BudgetUsecase) RequestTokens(ctx context.Context, req *TokenRequest) (*model.BudgetDecision, error) {
	if err := uc.validate.Struct(req); err != nil {
		return nil, newValidationError("invalid token request: " + err.Error())
	}

	// Fast path: decision already cached for this request_id.
	if d, ok, err := uc.idem.GetDecision(ctx, req.RequestID); err != nil {
		uc.logger.Warnf("idempotency lookup failed for request %s: %v (falling through to ledger)", req.RequestID, err)
	} else if ok {
		uc.logger.Debugw(
			"msg", "returning cached budget decision",
			"request_id", req.RequestID,
			"approved", d.Approved,
		)
		return d, nil
	}

	// Ledger fallback: the cache entry may have expired while the reserve
	// transaction still exists.
	if reservationID, amount, found, err := uc.repo.FindReservationByRequestID(ctx, req.RequestID); err != nil {
		return nil, newStorageError(err)
	} else if found {
		d := uc.approvedDecision(req.RequestID, reservationID, amount)
		uc.cacheDecision(ctx, req.RequestID, d)
		return d, nil
	}

	claimed, err := uc.idem.Claim(ctx, req.RequestID, uc.decisionTTL)
	if err != nil {
		uc.logger.Warnf("idempotency claim failed for request %s: %v (proceeding to ledger)", req.RequestID, err)
		claimed = true
	}
	if !claimed {
		// An identical request is in flight. Wait for its decision rather
		// than reserving a second time.
		return uc.awaitDuplicate(ctx, req.RequestID)
	}

	reservationID := uuid.NewString()
	ok, err := uc.repo.Reserve(ctx, req.TenantID, req.ProjectID, reservationID, req.RequestID, req.EstimatedTokens, uc.defaultLimit)
	if err != nil {
		// A duplicate request_id means an identical request slipped past a
		// degraded claim and reserved first. Its ledger row carries the
		// decision this caller must see.
		if pkgerrors.IsDuplicateKeyError(err) {
			if winnerID, amount, found, findErr := uc.repo.FindReservationByRequestID(ctx, req.RequestID); findErr == nil && found {
				d := uc.approvedDecision(req.RequestID, winnerID, amount)
				uc.cacheDecision(ctx, req.RequestID, d)
				return d, nil
			}
		}
		// Drop the claim so the caller may retry with the same request_id.
		if relErr := uc.idem.ReleaseClaim(ctx, req.RequestID); relErr != nil {
			uc.logger.Warnf("failed to release idempotency claim for request %s: %v", req.RequestID, relErr)
		}
		return nil, newStorageError(err)
	}

	var decision *model.BudgetDecision
	if ok {
		decision = uc.approvedDecision(req.RequestID, reservationID, req.EstimatedTokens)
		uc.logger.Infow(
			"msg", "budget reservation approved",
			"tenant_id", req.TenantID,
			"project_id", req.ProjectID,
			"request_id", req.RequestID,
			"reservation_id", reservationID,
			"allocated", req.EstimatedTokens,
		)
	} else {
		decision = &model.BudgetDecision{
			Approved:  false,
			Allocated: 0,
			Reason:    model.ReasonInsufficientFunds,
			RequestID: req.RequestID,
			Timestamp: time.Now(),
		}
		uc.logger.Warnw(
			"msg", "budget reservation declined",
			"tenant_id", req.TenantID,
			"project_id", req.ProjectID,
			"request_id", req.RequestID,
			"requested", req.EstimatedTokens,
			"reason", model.ReasonInsufficientFunds,
		)
		if uc.audit != nil {
			uc.audit.LogBudgetDeclined(ctx, req.TenantID, req.ProjectID, req.RequestID, model.ReasonInsufficientFunds, req.EstimatedTokens)
		}
	}

	uc.cacheDecision(ctx, req.RequestID, decision)
	return decision, nil
}

// awaitDuplicate polls for the decision of an in-flight identical request.
func (uc *BudgetUsecase) awaitDuplicate(ctx context.Context, requestID string) (*model.BudgetDecision, error) {
	deadline := time.Now().Add(duplicateWaitMax)
	ticker := time.NewTicker(duplicateWaitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if d, ok, err := uc.idem.GetDecision(ctx, requestID); err == nil && ok {
			return d, nil
		}

		if time.Now().After(deadline) {
			// The winner may have crashed before caching; the ledger has
			// the final word.
			if reservationID, amount, found, err := uc.repo.FindReservationByRequestID(ctx, requestID); err == nil && found {
				return uc.approvedDecision(requestID, reservationID, amount), nil
			}
			return &model.BudgetDecision{
				Approved:  false,
				Reason:    model.ReasonDuplicateInFlight,
				RequestID: requestID,
				Timestamp: time.Now(),
			}, nil
		}
	}
}

func (uc *BudgetUsecase) approvedDecision(requestID, reservationID string, amount int64) *model.BudgetDecision {
	return &model.BudgetDecision{
		Approved:      true,
		ReservationID: reservationID,
		Allocated:     amount,
		Reason:        model.ReasonApproved,
		RequestID:     requestID,
		Timestamp:     time.Now(),
	}
}

func (uc *BudgetUsecase) cacheDecision(ctx context.Context, requestID string, d *model.BudgetDecision) {
	if err := uc.idem.PutDecision(ctx, requestID, d, uc.decisionTTL); err != nil {
		// Cache is an optimization; the ledger remains authoritative.
		uc.logger.Warnf("failed to cache budget decision for request %s: %v", requestID, err)
	}
}

// CommitUsage finalizes a reservation with the tokens actually consumed.
// Any unused remainder returns to the account's headroom. A repeat commit
// reports already_committed without applying anything twice.
func (uc *BudgetUsecase) CommitUsage(ctx context.Context, reservationID string, actualTokens int64) (model.CommitStatus, error) {
	if reservationID == "" {
		return "", newValidationError("reservation_id is required")
	}
	if actualTokens < 0 {
		return "", newValidationError("actual_tokens must be >= 0")
	}

	status, err := uc.repo.CommitReservation(ctx, reservationID, actualTokens)
	if err != nil {
		return "", uc.classifyLedgerError(err, reservationID)
	}

	uc.logger.Infow(
		"msg", "reservation committed",
		"reservation_id", reservationID,
		"actual_tokens", actualTokens,
		"status", string(status),
	)
	return status, nil
}

// ReleaseReservation undoes a reservation without consuming anything.
// Idempotent under repeated calls.
func (uc *BudgetUsecase) ReleaseReservation(ctx context.Context, reservationID string) (model.ReleaseStatus, error) {
	if reservationID == "" {
		return "", newValidationError("reservation_id is required")
	}

	status, err := uc.repo.ReleaseReservation(ctx, reservationID)
	if err != nil {
		return "", uc.classifyLedgerError(err, reservationID)
	}

	uc.logger.Infow(
		"msg", "reservation released",
		"reservation_id", reservationID,
		"status", string(status),
	)
	return status, nil
}

// classifyLedgerError maps repo errors onto the caller-facing taxonomy.
func (uc *BudgetUsecase) classifyLedgerError(err error, reservationID string) error {
	if errors.Reason(err) == ReasonUnknownRecord {
		return err
	}
	uc.logger.Errorf("ledger mutation failed for reservation %s: %v", reservationID, err)
	return newStorageError(err)
}

// GetAccount returns the live snapshot of one (tenant, project) account.
func (uc *BudgetUsecase) GetAccount(ctx context.Context, tenantID, projectID string) (*model.BudgetAccountView, error) {
	if tenantID == "" || projectID == "" {
		return nil, newValidationError("tenant_id and project_id are required")
	}

	account, err := uc.repo.GetAccount(ctx, tenantID, projectID)
	if err != nil {
		return nil, newStorageError(err)
	}
	if account == nil {
		return nil, errors.New(404, ReasonUnknownRecord, "budget account not found")
	}
	return account, nil
}

// ListTransactions returns an account's ledger entries, newest first.
func (uc *BudgetUsecase) ListTransactions(ctx context.Context, tenantID, projectID string, limit int) ([]*model.BudgetTransactionView, error) {
	if tenantID == "" || projectID == "" {
		return nil, newValidationError("tenant_id and project_id are required")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	txs, err := uc.repo.ListTransactions(ctx, tenantID, projectID, limit)
	if err != nil {
		return nil, newStorageError(err)
	}
	return txs, nil
}
