package data

import (
	"context"
	"errors"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// DeadLetterMessage is the GORM model for dead_letter_messages. Rows are
// never deleted; resolution flips the resolved flag so the audit trail of
// exhausted work items survives.
type DeadLetterMessage struct {
	ID             int64      `gorm:"primaryKey;column:id"`
	MessageID      string     `gorm:"column:message_id;size:64;not null;uniqueIndex"`
	Destination    string     `gorm:"column:destination;size:255;not null;index"`
	Payload        []byte     `gorm:"column:payload;type:mediumblob"`
	LastError      string     `gorm:"column:last_error;type:text"`
	AttemptCount   int32      `gorm:"column:attempt_count;not null"`
	MaxAttempts    int32      `gorm:"column:max_attempts;not null"`
	Resolved       bool       `gorm:"column:resolved;default:false;not null;index"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
	ResolutionNote string     `gorm:"column:resolution_note;type:text"`
	Requeued       bool       `gorm:"column:requeued;default:false;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (DeadLetterMessage) TableName() string {
	return "dead_letter_messages"
}

// DeadLetterRepo implements the durable dead-letter store against MySQL.
// Payloads are encrypted at rest through the configured cipher.
type DeadLetterRepo struct {
	db     *gorm.DB
	cipher *PayloadCipher
	logger *log.Helper
}

// NewDeadLetterRepo creates a new dead-letter repository.
func NewDeadLetterRepo(db *gorm.DB, cipher *PayloadCipher, logger log.Logger) *DeadLetterRepo {
	return &DeadLetterRepo{
		db:     db,
		cipher: cipher,
		logger: log.NewHelper(logger),
	}
}

// Park persists a dead-letter message with resolved=false.
func (r *DeadLetterRepo) Park(ctx context.Context, msg *model.DeadLetterView) error {
	sealed, err := r.cipher.Seal(msg.Payload)
	if err != nil {
		return err
	}

	row := &DeadLetterMessage{
		MessageID:    msg.ID,
		Destination:  msg.Destination,
		Payload:      sealed,
		LastError:    msg.LastError,
		AttemptCount: msg.AttemptCount,
		MaxAttempts:  msg.MaxAttempts,
		Resolved:     false,
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// Get returns one message by id with the payload decrypted, or nil if
// unknown.
func (r *DeadLetterRepo) Get(ctx context.Context, id string) (*model.DeadLetterView, error) {
	var row DeadLetterMessage
	err := r.db.WithContext(ctx).Where("message_id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.toView(&row)
}

// List returns messages newest first.
func (r *DeadLetterRepo) List(ctx context.Context, includeResolved bool, limit, offset int) ([]*model.DeadLetterView, error) {
	q := r.db.WithContext(ctx).Model(&DeadLetterMessage{})
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}

	var rows []DeadLetterMessage
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}

	views := make([]*model.DeadLetterView, 0, len(rows))
	for i := range rows {
		view, err := r.toView(&rows[i])
		if err != nil {
			// A payload that fails to decrypt is still listable; the
			// operator sees the metadata and the error in the log.
			r.logger.Errorf("failed to decrypt payload for dead letter %s: %v", rows[i].MessageID, err)
			view = r.metadataView(&rows[i])
		}
		views = append(views, view)
	}
	return views, nil
}

// MarkResolved flips the resolved flag exactly once. The conditional
// UPDATE makes repeat resolutions report already_resolved without touching
// the row again.
func (r *DeadLetterRepo) MarkResolved(ctx context.Context, id, note string, requeued bool) (model.ResolveStatus, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&DeadLetterMessage{}).
		Where("message_id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":        true,
			"resolved_at":     now,
			"resolution_note": note,
			"requeued":        requeued,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return model.ResolveStatusAlreadyResolved, nil
	}
	return model.ResolveStatusResolved, nil
}

// CountUnresolved returns how many messages still await resolution.
func (r *DeadLetterRepo) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeadLetterMessage{}).
		Where("resolved = ?", false).
		Count(&count).Error
	return count, err
}

func (r *DeadLetterRepo) toView(row *DeadLetterMessage) (*model.DeadLetterView, error) {
	payload, err := r.cipher.Open(row.Payload)
	if err != nil {
		return nil, err
	}

	view := r.metadataView(row)
	view.Payload = payload
	return view, nil
}

func (r *DeadLetterRepo) metadataView(row *DeadLetterMessage) *model.DeadLetterView {
	return &model.DeadLetterView{
		ID:             row.MessageID,
		Destination:    row.Destination,
		LastError:      row.LastError,
		AttemptCount:   row.AttemptCount,
		MaxAttempts:    row.MaxAttempts,
		CreatedAt:      row.CreatedAt,
		Resolved:       row.Resolved,
		ResolvedAt:     row.ResolvedAt,
		ResolutionNote: row.ResolutionNote,
		Requeued:       row.Requeued,
	}
}
