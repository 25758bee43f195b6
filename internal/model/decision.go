package model

import "time"

// BudgetDecision is the outcome of a token budget request.
// Declined requests are ordinary decisions, not errors: callers must
// branch on Approved.
type BudgetDecision struct {
	Approved      bool      `json:"approved"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Allocated     int64     `json:"allocated"`
	Reason        string    `json:"reason,omitempty"`
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Decline reasons for BudgetDecision.
const (
	ReasonApproved           = "approved"
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonDuplicateInFlight  = "duplicate_request_in_progress"
	ReasonReservationFailure = "reservation_failed"
)

// CommitStatus is the outcome of committing a reservation.
type CommitStatus string

const (
	CommitStatusCommitted        CommitStatus = "committed"
	CommitStatusAlreadyCommitted CommitStatus = "already_committed"
)

// ReleaseStatus is the outcome of releasing a reservation.
type ReleaseStatus string

const (
	ReleaseStatusReleased        ReleaseStatus = "released"
	ReleaseStatusAlreadyReleased ReleaseStatus = "already_released"
)

// GovernanceDecision is the outcome of a learning-update governance check.
// Denials are data, not errors.
type GovernanceDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Governance denial reasons.
const (
	GovernanceReasonApprovalRequired = "requires_human_approval"
	GovernanceReasonCooldown         = "cooldown_active"
	GovernanceReasonDailyCapReached  = "daily_cap_reached"
	GovernanceReasonContention       = "concurrent_update_conflict"
)
