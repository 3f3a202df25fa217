package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// RevisionFacet is one of the three facets a revision may change.
type RevisionFacet string

const (
	FacetImage    RevisionFacet = "image"
	FacetSpeakers RevisionFacet = "speakers"
	FacetSponsors RevisionFacet = "sponsors"
)

// Valid reports whether the facet is revisable.
func (f RevisionFacet) Valid() bool {
	return f == FacetImage || f == FacetSpeakers || f == FacetSponsors
}

// RevisionStatus tracks the lifecycle of a revision request.
type RevisionStatus string

const (
	RevisionStatusPending  RevisionStatus = "PENDING"
	RevisionStatusApplied  RevisionStatus = "APPLIED"
	RevisionStatusRejected RevisionStatus = "REJECTED"
)

// Terminal reports whether no further decisions may change the revision.
func (s RevisionStatus) Terminal() bool {
	return s == RevisionStatusApplied || s == RevisionStatusRejected
}

// RevisionRequest is a facet-scoped change awaiting dual approval.
type RevisionRequest struct {
	ID               string            `db:"id" json:"id"`
	ApplicationID    string            `db:"application_id" json:"applicationId"`
	ClubID           string            `db:"club_id" json:"clubId"`
	SelectedFacets   pq.StringArray    `db:"selected_facets" json:"selectedFacets"`
	Description      string            `db:"description" json:"description"`
	Status           RevisionStatus    `db:"status" json:"status"`
	AdvisorApproval  *ApprovalDecision `db:"advisor_approval" json:"advisorApproval,omitempty"`
	BoardApproval    *ApprovalDecision `db:"board_approval" json:"boardApproval,omitempty"`
	ImageOldPath     *string           `db:"image_old_path" json:"-"`
	ImagePendingPath *string           `db:"image_pending_path" json:"-"`
	ImageFinalPath   *string           `db:"image_final_path" json:"imageFinalPath,omitempty"`
	ImageFileName    *string           `db:"image_file_name" json:"imageFileName,omitempty"`
	CommitError      *string           `db:"commit_error" json:"commitError,omitempty"`
	CommitStep       *string           `db:"commit_step" json:"commitStep,omitempty"`
	RequestedBy      string            `db:"requested_by" json:"requestedBy"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updatedAt"`

	Deltas []RevisionDelta `db:"-" json:"deltas,omitempty"`
}

// HasFacet reports whether the facet was selected when the revision was created.
func (r *RevisionRequest) HasFacet(facet RevisionFacet) bool {
	for _, f := range r.SelectedFacets {
		if RevisionFacet(f) == facet {
			return true
		}
	}
	return false
}

// DualApproved reports whether both reviewers approved.
func (r *RevisionRequest) DualApproved() bool {
	return r.AdvisorApproval.IsApproved() && r.BoardApproval.IsApproved()
}

// AnyRejected reports whether either reviewer rejected.
func (r *RevisionRequest) AnyRejected() bool {
	return r.AdvisorApproval.IsRejected() || r.BoardApproval.IsRejected()
}

// CommitFailed separates a stuck dual-approved revision from one still awaiting a decision.
func (r *RevisionRequest) CommitFailed() bool {
	return r.Status == RevisionStatusPending && r.CommitError != nil
}

// DeltaOp is the kind of a staged speaker/sponsor change.
type DeltaOp string

const (
	DeltaOpAdd    DeltaOp = "ADD"
	DeltaOpRemove DeltaOp = "REMOVE"
)

// DeltaFields carries the new row values of an Add.
type DeltaFields struct {
	Name         string `json:"name"`
	Affiliation  string `json:"affiliation,omitempty"`
	Topic        string `json:"topic,omitempty"`
	Contribution string `json:"contribution,omitempty"`
}

// Value implements driver.Valuer.
func (f DeltaFields) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *DeltaFields) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("scan delta fields: unsupported type %T", src)
	}
}

// RevisionDelta is one ordered add/remove operation on speakers or sponsors.
// For Add, TargetID is the id the new row will receive once committed.
type RevisionDelta struct {
	ID         string        `db:"id" json:"id"`
	RevisionID string        `db:"revision_id" json:"revisionId"`
	Facet      RevisionFacet `db:"facet" json:"facet"`
	Seq        int           `db:"seq" json:"seq"`
	Op         DeltaOp       `db:"op" json:"op"`
	TargetID   string        `db:"target_id" json:"targetId"`
	Fields     *DeltaFields  `db:"fields" json:"fields,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
}

// RevisionFilter constrains revision listing.
type RevisionFilter struct {
	ApplicationID string
	Status        []RevisionStatus
	Limit         int
	Offset        int
}
