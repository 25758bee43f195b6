package biz

import (
	"context"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	AuditEventCircuitBroken      AuditEventType = "CIRCUIT_BROKEN"
	AuditEventCircuitRecovered   AuditEventType = "CIRCUIT_RECOVERED"
	AuditEventBreakersReset      AuditEventType = "BREAKERS_RESET"
	AuditEventBudgetDeclined     AuditEventType = "BUDGET_DECLINED"
	AuditEventDeadLetterParked   AuditEventType = "DEAD_LETTER_PARKED"
	AuditEventDeadLetterResolved AuditEventType = "DEAD_LETTER_RESOLVED"
	AuditEventGovernanceDenied   AuditEventType = "GOVERNANCE_DENIED"
)

// AuditLogger records operational events for later inspection. Writes are
// asynchronous and best-effort: audit failures never fail the operation
// that produced the event.
type AuditLogger interface {
	// LogCircuitBroken records a breaker tripping to OPEN.
	LogCircuitBroken(ctx context.Context, breaker string, failureCount int, openedAt time.Time)

	// LogCircuitRecovered records a breaker returning to CLOSED.
	LogCircuitRecovered(ctx context.Context, breaker string, openFor time.Duration)

	// LogBreakersReset records an administrative bulk reset.
	LogBreakersReset(ctx context.Context, count int)

	// LogBudgetDeclined records a declined token reservation.
	LogBudgetDeclined(ctx context.Context, tenantID, projectID, requestID, reason string, amount int64)

	// LogDeadLetterParked records a work item exhausting its retries.
	LogDeadLetterParked(ctx context.Context, messageID, destination string, attempts int32, lastError string)

	// LogDeadLetterResolved records a manual dead-letter resolution.
	LogDeadLetterResolved(ctx context.Context, messageID, note string, requeued bool)

	// LogGovernanceDenied records a blocked learning update.
	LogGovernanceDenied(ctx context.Context, role, reason string)
}
