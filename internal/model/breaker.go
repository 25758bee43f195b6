package model

import "time"

// BreakerState represents the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerStats is a point-in-time snapshot of one breaker, exposed through
// the registry for monitoring.
type BreakerStats struct {
	Name                string       `json:"name"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalCalls          int64        `json:"total_calls"`
	TotalSuccesses      int64        `json:"total_successes"`
	TotalFailures       int64        `json:"total_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	LastStateChange     time.Time    `json:"last_state_change"`
}

// CircuitBrokenEvent is emitted when a breaker trips to OPEN.
type CircuitBrokenEvent struct {
	Name         string
	FailureCount int
	OpenedAt     time.Time
}

// CircuitRecoveredEvent is emitted when a breaker returns to CLOSED.
type CircuitRecoveredEvent struct {
	Name     string
	OpenFor  time.Duration
	ClosedAt time.Time
}
