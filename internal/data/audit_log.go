package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditEvent is the GORM model for the audit_events table.
type AuditEvent struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	EventType string    `gorm:"column:event_type;size:50;not null;index"`
	Subject   string    `gorm:"column:subject;size:255;not null;index"`
	Details   string    `gorm:"column:details;type:json"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (AuditEvent) TableName() string {
	return "audit_events"
}

// AuditLoggerImpl implements biz.AuditLogger. Events flow through a
// buffered channel and are written by a background goroutine, so the
// operations producing them never block on the audit table.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditEvent
	done    chan struct{}
	logger  *log.Helper

	mu     sync.RWMutex
	closed bool
}

// NewAuditLogger creates a new audit logger with async channel. The
// returned cleanup flushes buffered events and stops the writer.
func NewAuditLogger(db *gorm.DB, logger log.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditEvent, 1000),
		done:    make(chan struct{}),
		logger:  log.NewHelper(logger),
	}

	go al.start()

	return al, al.Close
}

// start processes audit events from the channel until Close drains it.
func (a *AuditLoggerImpl) start() {
	defer close(a.done)
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw(
				"msg", "failed to write audit event",
				"event_type", event.EventType,
				"subject", event.Subject,
				"error", err,
			)
		} else {
			a.logger.Debugw(
				"msg", "audit event written",
				"event_type", event.EventType,
				"subject", event.Subject,
			)
		}
	}
}

// Close stops accepting events, waits for the buffered backlog to flush,
// and returns once the writer goroutine has exited. Safe to call twice.
func (a *AuditLoggerImpl) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.logChan)
	a.mu.Unlock()

	<-a.done
	a.logger.Info("audit writer stopped")
}

// emit serializes details and queues the event without blocking.
func (a *AuditLoggerImpl) emit(eventType, subject string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit event details", "error", err)
		return
	}

	event := &AuditEvent{
		EventType: eventType,
		Subject:   subject,
		Details:   string(detailsJSON),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warnw(
			"msg", "audit writer closed, dropping event",
			"event_type", eventType,
			"subject", subject,
		)
		return
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw(
			"msg", "audit channel full, dropping event",
			"event_type", eventType,
			"subject", subject,
		)
	}
}

// LogCircuitBroken records a breaker tripping to OPEN.
func (a *AuditLoggerImpl) LogCircuitBroken(ctx context.Context, breaker string, failureCount int, openedAt time.Time) {
	a.emit("CIRCUIT_BROKEN", breaker, map[string]interface{}{
		"consecutive_failures": failureCount,
		"opened_at":            openedAt.Format(time.RFC3339),
	})
}

// LogCircuitRecovered records a breaker returning to CLOSED.
func (a *AuditLoggerImpl) LogCircuitRecovered(ctx context.Context, breaker string, openFor time.Duration) {
	a.emit("CIRCUIT_RECOVERED", breaker, map[string]interface{}{
		"open_for_seconds": openFor.Seconds(),
	})
}

// LogBreakersReset records an administrative bulk reset.
func (a *AuditLoggerImpl) LogBreakersReset(ctx context.Context, count int) {
	a.emit("BREAKERS_RESET", "all", map[string]interface{}{
		"count": count,
	})
}

// LogBudgetDeclined records a declined token reservation.
func (a *AuditLoggerImpl) LogBudgetDeclined(ctx context.Context, tenantID, projectID, requestID, reason string, amount int64) {
	a.emit("BUDGET_DECLINED", tenantID+"/"+projectID, map[string]interface{}{
		"request_id": requestID,
		"reason":     reason,
		"requested":  amount,
	})
}

// LogDeadLetterParked records a work item exhausting its retries.
func (a *AuditLoggerImpl) LogDeadLetterParked(ctx context.Context, messageID, destination string, attempts int32, lastError string) {
	a.emit("DEAD_LETTER_PARKED", messageID, map[string]interface{}{
		"destination": destination,
		"attempts":    attempts,
		"last_error":  lastError,
	})
}

// LogDeadLetterResolved records a manual dead-letter resolution.
func (a *AuditLoggerImpl) LogDeadLetterResolved(ctx context.Context, messageID, note string, requeued bool) {
	a.emit("DEAD_LETTER_RESOLVED", messageID, map[string]interface{}{
		"note":     note,
		"requeued": requeued,
	})
}

// LogGovernanceDenied records a blocked learning update.
func (a *AuditLoggerImpl) LogGovernanceDenied(ctx context.Context, role, reason string) {
	a.emit("GOVERNANCE_DENIED", role, map[string]interface{}{
		"reason": reason,
	})
}
