package biz

import (
	"context"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// DeadLetterRepo is the durable store for work items that exhausted their
// retries. Messages are never physically deleted; resolution flips a flag
// so the audit trail survives.
type DeadLetterRepo interface {
	// Park persists a dead-letter message with resolved=false.
	Park(ctx context.Context, msg *model.DeadLetterView) error

	// Get returns one message by id, or nil if unknown.
	Get(ctx context.Context, id string) (*model.DeadLetterView, error)

	// List returns messages newest first. Resolved messages are included
	// only when includeResolved is set.
	List(ctx context.Context, includeResolved bool, limit, offset int) ([]*model.DeadLetterView, error)

	// MarkResolved flips the resolved flag exactly once. A repeat call
	// reports already_resolved without touching the row.
	MarkResolved(ctx context.Context, id, note string, requeued bool) (model.ResolveStatus, error)

	// CountUnresolved returns how many messages still await resolution.
	CountUnresolved(ctx context.Context) (int64, error)
}

// RetryQueue schedules failed work items for redelivery. Claiming is
// atomic so concurrent workers never process the same item twice.
type RetryQueue interface {
	// Schedule enqueues item to become due at readyAt.
	Schedule(ctx context.Context, item *model.WorkItem, readyAt time.Time) error

	// ClaimDue atomically removes and returns up to limit items whose
	// readiness time has passed.
	ClaimDue(ctx context.Context, now time.Time, limit int64) ([]*model.WorkItem, error)
}

// DeadLetterUsecase applies the bounded-retry policy: failed work items
// are rescheduled with exponential backoff until max_attempts, then parked
// durably with an alert. Parked messages await manual resolution.
type DeadLetterUsecase struct {
	repo   DeadLetterRepo
	queue  RetryQueue
	audit  AuditLogger
	alerts AlertService
	logger *log.Helper

	maxAttempts int32
	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewDeadLetterUsecase creates the dead-letter policy engine.
func NewDeadLetterUsecase(c *conf.Retry, repo DeadLetterRepo, queue RetryQueue, audit AuditLogger, alerts AlertService, logger log.Logger) *DeadLetterUsecase {
	maxAttempts := int32(3)
	backoffBase := time.Second
	backoffMax := 5 * time.Minute
	if c != nil {
		if c.MaxAttempts > 0 {
			maxAttempts = c.MaxAttempts
		}
		if c.BackoffBase != nil && c.BackoffBase.AsDuration() > 0 {
			backoffBase = c.BackoffBase.AsDuration()
		}
		if c.BackoffMax != nil && c.BackoffMax.AsDuration() > 0 {
			backoffMax = c.BackoffMax.AsDuration()
		}
	}

	return &DeadLetterUsecase{
		repo:        repo,
		queue:       queue,
		audit:       audit,
		alerts:      alerts,
		logger:      log.NewHelper(logger),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

// MaxAttempts returns the configured retry budget per work item.
func (uc *DeadLetterUsecase) MaxAttempts() int32 {
	return uc.maxAttempts
}

// backoffDelay computes the delay before retry number attempt:
// base * 2^attempt, capped at backoffMax.
func (uc *DeadLetterUsecase) backoffDelay(attempt int32) time.Duration {
	delay := uc.backoffBase
	for i := int32(0); i < attempt; i++ {
		delay *= 2
		if delay >= uc.backoffMax {
			return uc.backoffMax
		}
	}
	if delay > uc.backoffMax {
		return uc.backoffMax
	}
	return delay
}

// HandleFailure records one failed delivery attempt for item. Below the
// attempt budget the item is rescheduled with backoff; at the budget it is
// parked as a dead letter and a critical alert fires. It returns the
// dead-letter message id when the item was parked.
func (uc *DeadLetterUsecase) HandleFailure(ctx context.Context, item *model.WorkItem, cause error) (parked bool, messageID string, err error) {
	if item == nil || item.Destination == "" {
		return false, "", newValidationError("work item with a destination is required")
	}

	item.Attempt++
	if cause != nil {
		item.LastError = cause.Error()
	}

	if item.Attempt < uc.maxAttempts {
		delay := uc.backoffDelay(item.Attempt)
		readyAt := time.Now().Add(delay)
		if err := uc.queue.Schedule(ctx, item, readyAt); err != nil {
			return false, "", newStorageError(err)
		}

		uc.logger.Warnw(
			"msg", "work item retry scheduled",
			"item_id", item.ID,
			"destination", item.Destination,
			"attempt", item.Attempt,
			"max_attempts", uc.maxAttempts,
			"retry_in", delay.String(),
			"last_error", item.LastError,
		)
		return false, "", nil
	}

	// Retry budget exhausted: park durably and escalate. The message gets
	// a fresh id of its own: a requeued item that exhausts its budget
	// again must land as a new row, never collide with the resolved row
	// it came from.
	msg := &model.DeadLetterView{
		ID:           uuid.NewString(),
		Destination:  item.Destination,
		Payload:      item.Payload,
		LastError:    item.LastError,
		AttemptCount: item.Attempt,
		MaxAttempts:  uc.maxAttempts,
		CreatedAt:    time.Now(),
		Resolved:     false,
	}
	if err := uc.repo.Park(ctx, msg); err != nil {
		return false, "", newStorageError(err)
	}

	uc.logger.Errorw(
		"msg", "work item moved to dead letter store",
		"message_id", msg.ID,
		"destination", msg.Destination,
		"attempt_count", msg.AttemptCount,
		"last_error", msg.LastError,
	)
	if uc.audit != nil {
		uc.audit.LogDeadLetterParked(ctx, msg.ID, msg.Destination, msg.AttemptCount, msg.LastError)
	}
	if uc.alerts != nil {
		uc.alerts.NotifyDeadLetter(ctx, msg.ID, msg.Destination, msg.LastError, msg.AttemptCount)
	}
	return true, msg.ID, nil
}

// Enqueue parks a message directly, bypassing the retry path. Callers use
// it when a failure is already known to be terminal.
func (uc *DeadLetterUsecase) Enqueue(ctx context.Context, destination string, payload []byte, lastError string) (string, error) {
	if destination == "" {
		return "", newValidationError("destination is required")
	}

	msg := &model.DeadLetterView{
		ID:           uuid.NewString(),
		Destination:  destination,
		Payload:      payload,
		LastError:    lastError,
		AttemptCount: uc.maxAttempts,
		MaxAttempts:  uc.maxAttempts,
		CreatedAt:    time.Now(),
		Resolved:     false,
	}
	if err := uc.repo.Park(ctx, msg); err != nil {
		return "", newStorageError(err)
	}

	uc.logger.Errorw(
		"msg", "message parked in dead letter store",
		"message_id", msg.ID,
		"destination", destination,
		"last_error", lastError,
	)
	if uc.audit != nil {
		uc.audit.LogDeadLetterParked(ctx, msg.ID, destination, msg.AttemptCount, lastError)
	}
	if uc.alerts != nil {
		uc.alerts.NotifyDeadLetter(ctx, msg.ID, destination, lastError, msg.AttemptCount)
	}
	return msg.ID, nil
}

// Resolve closes a parked message. With requeue the original payload is
// republished to its original destination with a fresh attempt budget;
// downstream handlers must tolerate at-least-once redelivery. Without
// requeue the message is a permanent drop. Idempotent: a repeat resolve
// reports already_resolved and does not republish again.
func (uc *DeadLetterUsecase) Resolve(ctx context.Context, id, note string, requeue bool) (model.ResolveStatus, error) {
	if id == "" {
		return "", newValidationError("message_id is required")
	}

	msg, err := uc.repo.Get(ctx, id)
	if err != nil {
		return "", newStorageError(err)
	}
	if msg == nil {
		return "", errors.New(404, ReasonUnknownRecord, "dead letter message not found")
	}

	status, err := uc.repo.MarkResolved(ctx, id, note, requeue)
	if err != nil {
		return "", newStorageError(err)
	}
	if status == model.ResolveStatusAlreadyResolved {
		return status, nil
	}

	if requeue {
		item := &model.WorkItem{
			ID:          msg.ID,
			Destination: msg.Destination,
			Payload:     msg.Payload,
			Attempt:     0,
		}
		if err := uc.queue.Schedule(ctx, item, time.Now()); err != nil {
			// The row is already marked resolved; surface the failure so
			// the operator can requeue manually.
			uc.logger.Errorf("failed to requeue dead letter %s: %v", id, err)
			return "", newStorageError(err)
		}
	}

	uc.logger.Infow(
		"msg", "dead letter message resolved",
		"message_id", id,
		"requeued", requeue,
		"note", note,
	)
	if uc.audit != nil {
		uc.audit.LogDeadLetterResolved(ctx, id, note, requeue)
	}
	return status, nil
}

// Get returns one dead-letter message for operator inspection.
func (uc *DeadLetterUsecase) Get(ctx context.Context, id string) (*model.DeadLetterView, error) {
	if id == "" {
		return nil, newValidationError("message_id is required")
	}

	msg, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, newStorageError(err)
	}
	if msg == nil {
		return nil, errors.New(404, ReasonUnknownRecord, "dead letter message not found")
	}
	return msg, nil
}

// List returns parked messages newest first.
func (uc *DeadLetterUsecase) List(ctx context.Context, includeResolved bool, limit, offset int) ([]*model.DeadLetterView, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := uc.repo.List(ctx, includeResolved, limit, offset)
	if err != nil {
		return nil, newStorageError(err)
	}
	return msgs, nil
}

// CountUnresolved reports the backlog of messages awaiting an operator.
func (uc *DeadLetterUsecase) CountUnresolved(ctx context.Context) (int64, error) {
	count, err := uc.repo.CountUnresolved(ctx)
	if err != nil {
		return 0, newStorageError(err)
	}
	return count, nil
}
