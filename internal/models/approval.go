package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ActorRole is the already-resolved role of the caller.
type ActorRole string

const (
	RoleAdvisor ActorRole = "advisor"
	RoleBoard   ActorRole = "board"
	RoleClub    ActorRole = "club"
	RoleAdmin   ActorRole = "admin"
)

// IsReviewer reports whether the role takes part in the two approval stages.
func (r ActorRole) IsReviewer() bool {
	return r == RoleAdvisor || r == RoleBoard
}

// DecisionStatus is the outcome recorded by a reviewer.
type DecisionStatus string

const (
	DecisionApproved DecisionStatus = "APPROVED"
	DecisionRejected DecisionStatus = "REJECTED"
)

// ApprovalDecision is one reviewer's verdict. A nil *ApprovalDecision means the
// decision is still pending. Reason is only set for rejections.
type ApprovalDecision struct {
	Status     DecisionStatus `json:"status"`
	ApproverID string         `json:"approverId"`
	Reason     string         `json:"reason,omitempty"`
	DecidedAt  time.Time      `json:"decidedAt"`
}

// Approve builds an approved decision stamped at the given instant.
func Approve(approverID string, at time.Time) *ApprovalDecision {
	return &ApprovalDecision{Status: DecisionApproved, ApproverID: approverID, DecidedAt: at.UTC()}
}

// Reject builds a rejected decision carrying the reviewer's reason.
func Reject(approverID, reason string, at time.Time) *ApprovalDecision {
	return &ApprovalDecision{Status: DecisionRejected, ApproverID: approverID, Reason: reason, DecidedAt: at.UTC()}
}

// IsApproved is nil-safe.
func (d *ApprovalDecision) IsApproved() bool {
	return d != nil && d.Status == DecisionApproved
}

// IsRejected is nil-safe.
func (d *ApprovalDecision) IsRejected() bool {
	return d != nil && d.Status == DecisionRejected
}

// Value stores the decision as JSONB.
func (d ApprovalDecision) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan loads a decision from a JSONB column.
func (d *ApprovalDecision) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan approval decision: unsupported type %T", src)
	}
	return json.Unmarshal(raw, d)
}

// DocumentStatus is derived from a document's advisor and board decisions.
type DocumentStatus string

const (
	DocumentStatusPending         DocumentStatus = "PENDING"
	DocumentStatusAdvisorApproved DocumentStatus = "ADVISOR_APPROVED"
	DocumentStatusBoardApproved   DocumentStatus = "BOARD_APPROVED"
	DocumentStatusApproved        DocumentStatus = "APPROVED"
	DocumentStatusRejected        DocumentStatus = "REJECTED"
)

// DeriveDocumentStatus is the single derivation used by every caller.
func DeriveDocumentStatus(advisor, board *ApprovalDecision) DocumentStatus {
	switch {
	case advisor.IsRejected() || board.IsRejected():
		return DocumentStatusRejected
	case advisor.IsApproved() && board.IsApproved():
		return DocumentStatusApproved
	case advisor.IsApproved() && board == nil:
		return DocumentStatusAdvisorApproved
	case board.IsApproved() && advisor == nil:
		// unreachable under board gating, kept so legacy rows still render
		return DocumentStatusBoardApproved
	default:
		return DocumentStatusPending
	}
}

// ApplicationStatus is derived from an application's advisor and board decisions.
type ApplicationStatus string

const (
	ApplicationStatusPendingAdvisor  ApplicationStatus = "PENDING_ADVISOR"
	ApplicationStatusPendingBoard    ApplicationStatus = "PENDING_BOARD"
	ApplicationStatusFullyApproved   ApplicationStatus = "FULLY_APPROVED"
	ApplicationStatusAdvisorRejected ApplicationStatus = "ADVISOR_REJECTED"
	ApplicationStatusBoardRejected   ApplicationStatus = "BOARD_REJECTED"
)

// DeriveApplicationStatus is the single derivation used by every caller.
func DeriveApplicationStatus(advisor, board *ApprovalDecision) ApplicationStatus {
	switch {
	case advisor == nil:
		return ApplicationStatusPendingAdvisor
	case advisor.IsRejected():
		return ApplicationStatusAdvisorRejected
	case board == nil:
		return ApplicationStatusPendingBoard
	case board.IsRejected():
		return ApplicationStatusBoardRejected
	default:
		return ApplicationStatusFullyApproved
	}
}
