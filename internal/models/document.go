package models

import "time"

// DocumentScope replaces the separate event/additional document tables.
type DocumentScope string

const (
	DocumentScopePrimary    DocumentScope = "primary"
	DocumentScopeAdditional DocumentScope = "additional"
)

// DocumentType enumerates the fixed attachment categories.
type DocumentType string

const (
	DocumentTypePoster          DocumentType = "POSTER"
	DocumentTypeParticipantList DocumentType = "PARTICIPANT_LIST"
	DocumentTypeBudgetPlan      DocumentType = "BUDGET_PLAN"
	DocumentTypeVenuePermit     DocumentType = "VENUE_PERMIT"
	DocumentTypeRiskAssessment  DocumentType = "RISK_ASSESSMENT"
	DocumentTypeOther           DocumentType = "OTHER"
)

// Valid reports whether the type is one of the fixed categories.
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypePoster, DocumentTypeParticipantList, DocumentTypeBudgetPlan,
		DocumentTypeVenuePermit, DocumentTypeRiskAssessment, DocumentTypeOther:
		return true
	}
	return false
}

// Document is an attachment approved independently of its application.
type Document struct {
	ID              string            `db:"id" json:"id"`
	ApplicationID   string            `db:"application_id" json:"applicationId"`
	Scope           DocumentScope     `db:"scope" json:"scope"`
	Type            DocumentType      `db:"type" json:"type"`
	FilePath        string            `db:"file_path" json:"-"`
	DisplayName     string            `db:"display_name" json:"displayName"`
	MimeType        string            `db:"mime_type" json:"mimeType"`
	Note            *string           `db:"note" json:"note,omitempty"`
	AdvisorApproval *ApprovalDecision `db:"advisor_approval" json:"advisorApproval,omitempty"`
	BoardApproval   *ApprovalDecision `db:"board_approval" json:"boardApproval,omitempty"`
	UploadedBy      string            `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

// Status derives the dual-approval state of the document.
func (d *Document) Status() DocumentStatus {
	return DeriveDocumentStatus(d.AdvisorApproval, d.BoardApproval)
}

// DocumentView is the read model returned to API callers.
type DocumentView struct {
	Document
	Status DocumentStatus `json:"status"`
}

// NewDocumentView attaches the derived status.
func NewDocumentView(doc *Document) DocumentView {
	return DocumentView{Document: *doc, Status: doc.Status()}
}

// DocumentFilter constrains document listing.
type DocumentFilter struct {
	ApplicationID string
	Scope         DocumentScope
	Type          DocumentType
	// AwaitingBoard keeps only documents with advisor approval and no board decision.
	AwaitingBoard bool
}
