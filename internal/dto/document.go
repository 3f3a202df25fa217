package dto

import "github.com/noah-isme/club-approval-api/internal/models"

// UploadDocumentRequest holds the metadata sent alongside a document file.
type UploadDocumentRequest struct {
	Scope       models.DocumentScope `form:"scope" json:"scope" validate:"omitempty,oneof=primary additional"`
	Type        models.DocumentType  `form:"type" json:"type" validate:"required"`
	DisplayName string               `form:"displayName" json:"displayName" validate:"max=255"`
	Note        string               `form:"note" json:"note" validate:"max=1000"`
}

// SignedURLResponse wraps a short-lived read URL.
type SignedURLResponse struct {
	URL string `json:"url"`
}
