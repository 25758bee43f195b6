package data

import (
	"context"
	"errors"
	"time"

	"GuardLane/internal/model"
	pkgerrors "GuardLane/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reasonUnknownRecord matches the reason the biz layer passes through to
// callers for lookups against records that do not exist.
const reasonUnknownRecord = "UNKNOWN_RECORD"

// Reservation lifecycle states.
const (
	reservationStatusReserved  = "reserved"
	reservationStatusCommitted = "committed"
	reservationStatusReleased  = "released"
)

// BudgetAccount is the GORM model for budget_accounts. The invariant
// used + reserved <= total_limit is enforced by the conditional update in
// Reserve, never by application-level read-then-write.
type BudgetAccount struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	TenantID   string    `gorm:"column:tenant_id;size:64;not null;uniqueIndex:uk_tenant_project"`
	ProjectID  string    `gorm:"column:project_id;size:64;not null;uniqueIndex:uk_tenant_project"`
	TotalLimit int64     `gorm:"column:total_limit;not null"`
	Used       int64     `gorm:"column:used;default:0;not null"`
	Reserved   int64     `gorm:"column:reserved;default:0;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (BudgetAccount) TableName() string {
	return "budget_accounts"
}

// BudgetReservation tracks one hold's lifecycle so commit and release stay
// idempotent: repeated finalizations observe the row's status instead of
// re-applying amounts.
type BudgetReservation struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	ReservationID string    `gorm:"column:reservation_id;size:64;not null;uniqueIndex"`
	RequestID     string    `gorm:"column:request_id;size:128;not null;uniqueIndex"`
	AccountID     int64     `gorm:"column:account_id;not null;index"`
	Amount        int64     `gorm:"column:amount;not null"`
	ActualTokens  int64     `gorm:"column:actual_tokens;default:0;not null"`
	Status        string    `gorm:"column:status;type:enum('reserved','committed','released');default:'reserved';not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (BudgetReservation) TableName() string {
	return "budget_reservations"
}

// BudgetTransaction is one append-only ledger entry. Replaying an
// account's entries reconstructs its live used/reserved fields.
type BudgetTransaction struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	AccountID     int64     `gorm:"column:account_id;not null;index"`
	TenantID      string    `gorm:"column:tenant_id;size:64;not null"`
	ProjectID     string    `gorm:"column:project_id;size:64;not null"`
	RequestID     string    `gorm:"column:request_id;size:128;index"`
	ReservationID string    `gorm:"column:reservation_id;size:64;not null;index"`
	Type          string    `gorm:"column:type;type:enum('reserve','commit','release');not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (BudgetTransaction) TableName() string {
	return "budget_transactions"
}

// BudgetRepo implements the durable ledger against MySQL.
type BudgetRepo struct {
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewBudgetRepo creates a new budget ledger repository.
func NewBudgetRepo(db *gorm.DB, cache CacheClient, logger log.Logger) *BudgetRepo {
	return &BudgetRepo{
		db:     db,
		cache:  cache,
		logger: log.NewHelper(logger),
	}
}

// Reserve atomically holds amount against the (tenant, project) account.
// The headroom check and the hold are one conditional UPDATE, so
// concurrent reserves can never jointly overcommit: the statement only
// applies when used + reserved + amount <= total_limit, and RowsAffected
// reports whether it did.
func (r *BudgetRepo) Reserve(ctx context.Context, tenantID, projectID, reservationID, requestID string, amount, defaultLimit int64) (bool, error) {
	approved := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			"UPDATE budget_accounts SET reserved = reserved + ? WHERE tenant_id = ? AND project_id = ? AND used + reserved + ? <= total_limit",
			amount, tenantID, projectID, amount,
		)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			created, err := r.ensureAccount(tx, tenantID, projectID, defaultLimit)
			if err != nil {
				return err
			}
			if !created {
				// Account exists and the conditional update rejected the
				// hold: insufficient headroom, not an error.
				return nil
			}

			res = tx.Exec(
				"UPDATE budget_accounts SET reserved = reserved + ? WHERE tenant_id = ? AND project_id = ? AND used + reserved + ? <= total_limit",
				amount, tenantID, projectID, amount,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
		}

		var account BudgetAccount
		if err := tx.Where("tenant_id = ? AND project_id = ?", tenantID, projectID).First(&account).Error; err != nil {
			return err
		}

		reservation := &BudgetReservation{
			ReservationID: reservationID,
			RequestID:     requestID,
			AccountID:     account.ID,
			Amount:        amount,
			Status:        reservationStatusReserved,
		}
		if err := tx.Create(reservation).Error; err != nil {
			// A duplicate request_id means another caller reserved for the
			// same idempotency key; roll back this hold entirely.
			return err
		}

		entry := &BudgetTransaction{
			AccountID:     account.ID,
			TenantID:      tenantID,
			ProjectID:     projectID,
			RequestID:     requestID,
			ReservationID: reservationID,
			Type:          model.TxTypeReserve,
			Amount:        amount,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		approved = true
		return nil
	})
	if err != nil {
		return false, err
	}

	r.invalidateAccount(ctx, tenantID, projectID)
	return approved, nil
}

// ensureAccount lazily creates the account with the default limit. It
// returns true when this call (or a concurrent one) created the row and
// false when the account already existed.
func (r *BudgetRepo) ensureAccount(tx *gorm.DB, tenantID, projectID string, defaultLimit int64) (bool, error) {
	var count int64
	if err := tx.Model(&BudgetAccount{}).
		Where("tenant_id = ? AND project_id = ?", tenantID, projectID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	account := &BudgetAccount{
		TenantID:   tenantID,
		ProjectID:  projectID,
		TotalLimit: defaultLimit,
	}
	if err := tx.Create(account).Error; err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			// Lost the creation race; the row exists now.
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// CommitReservation moves the reservation's actual usage from reserved to
// used in one transaction under a row lock. Actual usage above the
// reserved amount is clamped to it; any remainder returns to headroom.
func (r *BudgetRepo) CommitReservation(ctx context.Context, reservationID string, actualTokens int64) (model.CommitStatus, error) {
	status := model.CommitStatusCommitted
	var tenantID, projectID string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := r.lockReservation(tx, reservationID)
		if err != nil {
			return err
		}

		switch reservation.Status {
		case reservationStatusCommitted:
			status = model.CommitStatusAlreadyCommitted
			return nil
		case reservationStatusReleased:
			return kerrors.New(409, "RESERVATION_RELEASED", "reservation was already released")
		}

		actual := actualTokens
		if actual > reservation.Amount {
			r.logger.Warnf("actual tokens %d exceed reserved %d for reservation %s, clamping",
				actualTokens, reservation.Amount, reservationID)
			actual = reservation.Amount
		}

		if err := tx.Exec(
			"UPDATE budget_accounts SET reserved = reserved - ?, used = used + ? WHERE id = ?",
			reservation.Amount, actual, reservation.AccountID,
		).Error; err != nil {
			return err
		}

		if err := tx.Model(&BudgetReservation{}).
			Where("id = ?", reservation.ID).
			Updates(map[string]interface{}{
				"status":        reservationStatusCommitted,
				"actual_tokens": actual,
			}).Error; err != nil {
			return err
		}

		var account BudgetAccount
		if err := tx.First(&account, reservation.AccountID).Error; err != nil {
			return err
		}
		tenantID, projectID = account.TenantID, account.ProjectID

		entry := &BudgetTransaction{
			AccountID:     reservation.AccountID,
			TenantID:      account.TenantID,
			ProjectID:     account.ProjectID,
			RequestID:     reservation.RequestID,
			ReservationID: reservationID,
			Type:          model.TxTypeCommit,
			Amount:        actual,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return "", err
	}

	if tenantID != "" {
		r.invalidateAccount(ctx, tenantID, projectID)
	}
	return status, nil
}

// ReleaseReservation returns the full reserved amount to headroom without
// consuming anything. Idempotent via the reservation row's status.
func (r *BudgetRepo) ReleaseReservation(ctx context.Context, reservationID string) (model.ReleaseStatus, error) {
	status := model.ReleaseStatusReleased
	var tenantID, projectID string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := r.lockReservation(tx, reservationID)
		if err != nil {
			return err
		}

		switch reservation.Status {
		case reservationStatusReleased:
			status = model.ReleaseStatusAlreadyReleased
			return nil
		case reservationStatusCommitted:
			return kerrors.New(409, "RESERVATION_COMMITTED", "reservation was already committed")
		}

		if err := tx.Exec(
			"UPDATE budget_accounts SET reserved = reserved - ? WHERE id = ?",
			reservation.Amount, reservation.AccountID,
		).Error; err != nil {
			return err
		}

		if err := tx.Model(&BudgetReservation{}).
			Where("id = ?", reservation.ID).
			Update("status", reservationStatusReleased).Error; err != nil {
			return err
		}

		var account BudgetAccount
		if err := tx.First(&account, reservation.AccountID).Error; err != nil {
			return err
		}
		tenantID, projectID = account.TenantID, account.ProjectID

		entry := &BudgetTransaction{
			AccountID:     reservation.AccountID,
			TenantID:      account.TenantID,
			ProjectID:     account.ProjectID,
			RequestID:     reservation.RequestID,
			ReservationID: reservationID,
			Type:          model.TxTypeRelease,
			Amount:        reservation.Amount,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return "", err
	}

	if tenantID != "" {
		r.invalidateAccount(ctx, tenantID, projectID)
	}
	return status, nil
}

// lockReservation loads the reservation row FOR UPDATE, serializing
// concurrent finalizations of the same reservation.
func (r *BudgetRepo) lockReservation(tx *gorm.DB, reservationID string) (*BudgetReservation, error) {
	var reservation BudgetReservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reservation_id = ?", reservationID).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.New(404, reasonUnknownRecord, "reservation not found: "+reservationID)
		}
		return nil, err
	}
	return &reservation, nil
}

// FindReservationByRequestID resolves an idempotency key through the
// ledger, for when the cached decision has expired.
func (r *BudgetRepo) FindReservationByRequestID(ctx context.Context, requestID string) (string, int64, bool, error) {
	var reservation BudgetReservation
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	return reservation.ReservationID, reservation.Amount, true, nil
}

// GetAccount returns a snapshot of one account, read through a short-lived
// cache. Returns nil when the account was never created.
func (r *BudgetRepo) GetAccount(ctx context.Context, tenantID, projectID string) (*model.BudgetAccountView, error) {
	cacheKey := BuildCacheKey(CacheKeyAccount, tenantID, projectID)

	var cached model.BudgetAccountView
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	}

	var account BudgetAccount
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND project_id = ?", tenantID, projectID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	view := &model.BudgetAccountView{
		TenantID:   account.TenantID,
		ProjectID:  account.ProjectID,
		TotalLimit: account.TotalLimit,
		Used:       account.Used,
		Reserved:   account.Reserved,
		Headroom:   account.TotalLimit - account.Used - account.Reserved,
		UpdatedAt:  account.UpdatedAt,
	}

	if err := r.cache.Set(ctx, cacheKey, view, TTLAccount); err != nil {
		r.logger.Debugf("failed to cache account snapshot %s/%s: %v", tenantID, projectID, err)
	}
	return view, nil
}

// ListTransactions returns the account's ledger entries, newest first.
func (r *BudgetRepo) ListTransactions(ctx context.Context, tenantID, projectID string, limit int) ([]*model.BudgetTransactionView, error) {
	var entries []BudgetTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND project_id = ?", tenantID, projectID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	views := make([]*model.BudgetTransactionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, &model.BudgetTransactionView{
			ID:            e.ID,
			TenantID:      e.TenantID,
			ProjectID:     e.ProjectID,
			RequestID:     e.RequestID,
			ReservationID: e.ReservationID,
			Type:          e.Type,
			Amount:        e.Amount,
			CreatedAt:     e.CreatedAt,
		})
	}
	return views, nil
}

// invalidateAccount drops the cached snapshot after a mutation.
func (r *BudgetRepo) invalidateAccount(ctx context.Context, tenantID, projectID string) {
	if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyAccount, tenantID, projectID)); err != nil {
		r.logger.Debugf("failed to invalidate account cache %s/%s: %v", tenantID, projectID, err)
	}
}
