package dto

import "github.com/noah-isme/club-approval-api/internal/models"

// CreateRevisionRequest opens a revision over the selected facets.
type CreateRevisionRequest struct {
	Facets      []models.RevisionFacet `json:"facets" validate:"required,min=1,dive,oneof=image speakers sponsors"`
	Description string                 `json:"description" validate:"max=2000"`
}

// DeltaInput is one staged add or remove. An add may carry a Ref so a later
// remove in the same batch can name it through TargetRef.
type DeltaInput struct {
	Op           models.DeltaOp `json:"op" validate:"required,oneof=ADD REMOVE"`
	Ref          string         `json:"ref" validate:"max=64"`
	TargetID     string         `json:"targetId"`
	TargetRef    string         `json:"targetRef" validate:"max=64"`
	Name         string         `json:"name" validate:"max=200"`
	Affiliation  string         `json:"affiliation" validate:"max=200"`
	Topic        string         `json:"topic" validate:"max=300"`
	Contribution string         `json:"contribution" validate:"max=300"`
}

// StageDeltasRequest appends ordered operations to a revision.
type StageDeltasRequest struct {
	Ops []DeltaInput `json:"ops" validate:"required,min=1,dive"`
}
