package biz

import (
	"context"

	"GuardLane/internal/model"
)

// AlertService notifies operators of conditions that need human attention.
// Implementations must be non-blocking on the caller's path.
type AlertService interface {
	// NotifyCircuitBroken fires when a breaker trips to OPEN.
	NotifyCircuitBroken(ctx context.Context, event model.CircuitBrokenEvent)

	// NotifyDeadLetter fires when a work item exhausts its retries and is
	// parked for manual resolution.
	NotifyDeadLetter(ctx context.Context, messageID, destination, lastError string, attempts int32)
}
