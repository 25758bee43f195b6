package model

import "time"

// BudgetAccountView is a read-only snapshot of one (tenant, project) account.
type BudgetAccountView struct {
	TenantID   string    `json:"tenant_id"`
	ProjectID  string    `json:"project_id"`
	TotalLimit int64     `json:"total_limit"`
	Used       int64     `json:"used"`
	Reserved   int64     `json:"reserved"`
	Headroom   int64     `json:"headroom"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Budget transaction types. The ledger is append-only: replaying an
// account's transactions reconstructs its live used/reserved fields.
const (
	TxTypeReserve = "reserve"
	TxTypeCommit  = "commit"
	TxTypeRelease = "release"
)

// BudgetTransactionView is a read-only projection of one ledger entry.
type BudgetTransactionView struct {
	ID            int64     `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ProjectID     string    `json:"project_id"`
	RequestID     string    `json:"request_id,omitempty"`
	ReservationID string    `json:"reservation_id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}
