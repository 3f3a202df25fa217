package models

import "time"

// LedgerCategory names the kind of entity a decision applied to.
type LedgerCategory string

const (
	LedgerCategoryApplication LedgerCategory = "APPLICATION"
	LedgerCategoryDocument    LedgerCategory = "DOCUMENT"
	LedgerCategoryRevision    LedgerCategory = "REVISION"
)

// LedgerEntry is an immutable audit record of one approval or rejection.
type LedgerEntry struct {
	ID            string         `db:"id" json:"id"`
	Category      LedgerCategory `db:"category" json:"category"`
	EntityID      string         `db:"entity_id" json:"entityId"`
	ApplicationID string         `db:"application_id" json:"applicationId"`
	Role          ActorRole      `db:"role" json:"role"`
	Status        DecisionStatus `db:"status" json:"status"`
	ApproverID    string         `db:"approver_id" json:"approverId"`
	Reason        *string        `db:"reason" json:"reason,omitempty"`
	DecidedAt     time.Time      `db:"decided_at" json:"decidedAt"`
}

// NewLedgerEntry mirrors a decision into its ledger form.
func NewLedgerEntry(category LedgerCategory, entityID, applicationID string, role ActorRole, decision *ApprovalDecision) *LedgerEntry {
	entry := &LedgerEntry{
		Category:      category,
		EntityID:      entityID,
		ApplicationID: applicationID,
		Role:          role,
		Status:        decision.Status,
		ApproverID:    decision.ApproverID,
		DecidedAt:     decision.DecidedAt,
	}
	if decision.Reason != "" {
		reason := decision.Reason
		entry.Reason = &reason
	}
	return entry
}
