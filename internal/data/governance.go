package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GovernanceRuleRow is the GORM model for governance_rules. The version
// column backs optimistic locking: the check-then-record sequence for a
// role is retried until its conditional update lands on an unchanged row,
// so two concurrent callers can never both slip past the daily cap.
type GovernanceRuleRow struct {
	ID                    int64      `gorm:"primaryKey;column:id"`
	Role                  string     `gorm:"column:role;size:64;not null;uniqueIndex"`
	MaxUpdatesPerDay      int32      `gorm:"column:max_updates_per_day;not null"`
	CooldownSeconds       int64      `gorm:"column:cooldown_seconds;not null"`
	RequiresHumanApproval bool       `gorm:"column:requires_human_approval;default:false;not null"`
	LastUpdateAt          *time.Time `gorm:"column:last_update_at"`
	Version               int32      `gorm:"column:version;default:1;not null"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (GovernanceRuleRow) TableName() string {
	return "governance_rules"
}

// GovernanceUpdate is one append-only update-log row. The daily cap reads
// the trailing 24 hours of auto-sourced rows.
type GovernanceUpdate struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Role       string    `gorm:"column:role;size:64;not null;index:idx_role_created"`
	Source     string    `gorm:"column:source;size:16;not null"`
	ApprovedBy string    `gorm:"column:approved_by;size:64"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index:idx_role_created"`
}

// TableName specifies the table name for GORM.
func (GovernanceUpdate) TableName() string {
	return "governance_updates"
}

// GovernanceApproval is the GORM model for governance_approvals.
type GovernanceApproval struct {
	ID          int64      `gorm:"primaryKey;column:id"`
	ApprovalID  string     `gorm:"column:approval_id;size:64;not null;uniqueIndex"`
	Role        string     `gorm:"column:role;size:64;not null;index"`
	Description string     `gorm:"column:description;type:text"`
	Status      string     `gorm:"column:status;type:enum('pending','approved','rejected');default:'pending';not null;index"`
	RequestedAt time.Time  `gorm:"column:requested_at;not null"`
	DecidedAt   *time.Time `gorm:"column:decided_at"`
	DecidedBy   string     `gorm:"column:decided_by;size:64"`
	Note        string     `gorm:"column:note;type:text"`
}

// TableName specifies the table name for GORM.
func (GovernanceApproval) TableName() string {
	return "governance_approvals"
}

// maxGovernanceRetries bounds the optimistic-lock retry loop.
const maxGovernanceRetries = 3

// GovernanceRepo implements the governance store against MySQL.
type GovernanceRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewGovernanceRepo creates a new governance repository.
func NewGovernanceRepo(db *gorm.DB, logger log.Logger) *GovernanceRepo {
	return &GovernanceRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// GetRule returns the rule for role, or nil if none is seeded.
func (r *GovernanceRepo) GetRule(ctx context.Context, role string) (*model.GovernanceRule, error) {
	row, err := r.getRuleRow(ctx, role)
	if err != nil || row == nil {
		return nil, err
	}
	return ruleToModel(row), nil
}

// UpsertRule creates or edits a rule.
func (r *GovernanceRepo) UpsertRule(ctx context.Context, rule *model.GovernanceRule) error {
	row := &GovernanceRuleRow{
		Role:                  rule.Role,
		MaxUpdatesPerDay:      rule.MaxUpdatesPerDay,
		CooldownSeconds:       int64(rule.CooldownDuration / time.Second),
		RequiresHumanApproval: rule.RequiresHumanApproval,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"max_updates_per_day", "cooldown_seconds", "requires_human_approval",
		}),
	}).Create(row).Error
}

// CountAutoUpdatesSince counts auto-applied updates for role after since.
func (r *GovernanceRepo) CountAutoUpdatesSince(ctx context.Context, role string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&GovernanceUpdate{}).
		Where("role = ? AND source = ? AND created_at > ?", role, "auto", since).
		Count(&count).Error
	return count, err
}

// TryRecordAutoUpdate atomically re-checks the cooldown and daily cap and,
// if both pass, records the update. The check and the record are tied
// together by an optimistic lock on the rule row: the final UPDATE only
// applies if the row's version is unchanged since the check, and the whole
// sequence retries on conflict.
func (r *GovernanceRepo) TryRecordAutoUpdate(ctx context.Context, role string, now time.Time) (bool, string, error) {
	for attempt := 0; attempt < maxGovernanceRetries; attempt++ {
		row, err := r.getRuleRow(ctx, role)
		if err != nil {
			return false, "", err
		}
		if row == nil {
			return false, "", fmt.Errorf("no governance rule for role %s", role)
		}

		cooldown := time.Duration(row.CooldownSeconds) * time.Second
		if row.LastUpdateAt != nil && now.Sub(*row.LastUpdateAt) < cooldown {
			return false, model.GovernanceReasonCooldown, nil
		}

		count, err := r.CountAutoUpdatesSince(ctx, role, now.Add(-24*time.Hour))
		if err != nil {
			return false, "", err
		}
		if count >= int64(row.MaxUpdatesPerDay) {
			return false, model.GovernanceReasonDailyCapReached, nil
		}

		var applied bool
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&GovernanceRuleRow{}).
				Where("id = ? AND version = ?", row.ID, row.Version).
				Updates(map[string]interface{}{
					"last_update_at": now,
					"version":        gorm.Expr("version + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Version moved under us; retry the whole check.
				return nil
			}

			applied = true
			return tx.Create(&GovernanceUpdate{
				Role:   role,
				Source: "auto",
			}).Error
		})
		if err != nil {
			return false, "", err
		}
		if applied {
			return true, "", nil
		}

		r.logger.Debugf("governance version conflict for role %s, retrying (%d/%d)", role, attempt+1, maxGovernanceRetries)
	}

	// Sustained contention means concurrent updates are racing; deny this
	// one rather than risk exceeding the cap. The caller sees the race for
	// what it is, not a cooldown.
	return false, model.GovernanceReasonContention, nil
}

// RecordUpdate unconditionally sets last_update_at for role and appends an
// update-log row with the given source.
func (r *GovernanceRepo) RecordUpdate(ctx context.Context, role, source, approvedBy string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&GovernanceRuleRow{}).
			Where("role = ?", role).
			Updates(map[string]interface{}{
				"last_update_at": now,
				"version":        gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("no governance rule for role %s", role)
		}

		return tx.Create(&GovernanceUpdate{
			Role:       role,
			Source:     source,
			ApprovedBy: approvedBy,
		}).Error
	})
}

// PruneUpdateLog deletes update-log rows older than before.
func (r *GovernanceRepo) PruneUpdateLog(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&GovernanceUpdate{})
	return res.RowsAffected, res.Error
}

// CreateApproval persists a pending human-approval request.
func (r *GovernanceRepo) CreateApproval(ctx context.Context, req *model.ApprovalRequest) error {
	row := &GovernanceApproval{
		ApprovalID:  req.ID,
		Role:        req.Role,
		Description: req.Description,
		Status:      string(req.Status),
		RequestedAt: req.RequestedAt,
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// GetApproval returns one approval request, or nil if unknown.
func (r *GovernanceRepo) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	var row GovernanceApproval
	err := r.db.WithContext(ctx).Where("approval_id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return approvalToModel(&row), nil
}

// ListApprovals returns requests with the given status, newest first.
func (r *GovernanceRepo) ListApprovals(ctx context.Context, status model.ApprovalStatus, limit int) ([]*model.ApprovalRequest, error) {
	var rows []GovernanceApproval
	err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	reqs := make([]*model.ApprovalRequest, 0, len(rows))
	for i := range rows {
		reqs = append(reqs, approvalToModel(&rows[i]))
	}
	return reqs, nil
}

// DecideApproval transitions a pending request to approved/rejected. The
// conditional UPDATE on status='pending' makes a second decision report
// false instead of overwriting the first.
func (r *GovernanceRepo) DecideApproval(ctx context.Context, id string, status model.ApprovalStatus, decidedBy, note string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&GovernanceApproval{}).
		Where("approval_id = ? AND status = ?", id, string(model.ApprovalPending)).
		Updates(map[string]interface{}{
			"status":     string(status),
			"decided_at": now,
			"decided_by": decidedBy,
			"note":       note,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GovernanceRepo) getRuleRow(ctx context.Context, role string) (*GovernanceRuleRow, error) {
	var row GovernanceRuleRow
	err := r.db.WithContext(ctx).Where("role = ?", role).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func ruleToModel(row *GovernanceRuleRow) *model.GovernanceRule {
	return &model.GovernanceRule{
		Role:                  row.Role,
		MaxUpdatesPerDay:      row.MaxUpdatesPerDay,
		CooldownDuration:      time.Duration(row.CooldownSeconds) * time.Second,
		RequiresHumanApproval: row.RequiresHumanApproval,
		LastUpdateAt:          row.LastUpdateAt,
	}
}

func approvalToModel(row *GovernanceApproval) *model.ApprovalRequest {
	return &model.ApprovalRequest{
		ID:          row.ApprovalID,
		Role:        row.Role,
		Description: row.Description,
		Status:      model.ApprovalStatus(row.Status),
		RequestedAt: row.RequestedAt,
		DecidedAt:   row.DecidedAt,
		DecidedBy:   row.DecidedBy,
		Note:        row.Note,
	}
}
