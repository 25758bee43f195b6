package model

import "time"

// WorkItem is an asynchronous unit of delivery: a payload bound for a named
// destination. Failed items are retried with backoff and, on exhaustion,
// parked as dead letters.
type WorkItem struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
	Attempt     int32  `json:"attempt"`
	LastError   string `json:"last_error,omitempty"`
}

// ResolveStatus is the outcome of a manual dead-letter resolution.
type ResolveStatus string

const (
	ResolveStatusResolved        ResolveStatus = "resolved"
	ResolveStatusAlreadyResolved ResolveStatus = "already_resolved"
)

// DeadLetterView is the operator-facing projection of a parked message,
// with the payload decrypted for inspection.
type DeadLetterView struct {
	ID             string     `json:"id"`
	Destination    string     `json:"destination"`
	Payload        []byte     `json:"payload"`
	LastError      string     `json:"last_error"`
	AttemptCount   int32      `json:"attempt_count"`
	MaxAttempts    int32      `json:"max_attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	Requeued       bool       `json:"requeued"`
}
