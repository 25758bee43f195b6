package model

import "time"

// GovernanceRule bounds how often an actor role may apply automatic
// learning updates. Rules are seeded at deployment and edited by operators.
type GovernanceRule struct {
	Role                  string        `json:"role"`
	MaxUpdatesPerDay      int32         `json:"max_updates_per_day"`
	CooldownDuration      time.Duration `json:"cooldown_duration"`
	RequiresHumanApproval bool          `json:"requires_human_approval"`
	LastUpdateAt          *time.Time    `json:"last_update_at,omitempty"`
}

// ApprovalStatus is the state of a human-approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest tracks an update that failed the automatic governance
// check and was routed to a human reviewer.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	Description string         `json:"description"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Note        string         `json:"note,omitempty"`
}
