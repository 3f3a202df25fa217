package dto

import (
	"io"

	"github.com/noah-isme/club-approval-api/internal/models"
)

// SpeakerInput describes one guest speaker.
type SpeakerInput struct {
	FullName    string `json:"fullName" validate:"required,max=200"`
	Affiliation string `json:"affiliation" validate:"max=200"`
	Topic       string `json:"topic" validate:"max=300"`
}

// SponsorInput describes one sponsor.
type SponsorInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	Contribution string `json:"contribution" validate:"max=300"`
}

// ApplicationFacts is the editable part of an application.
type ApplicationFacts struct {
	Title       string            `json:"title" validate:"required,max=200"`
	EventType   string            `json:"eventType" validate:"required,max=100"`
	Venue       string            `json:"venue" validate:"max=200"`
	Description string            `json:"description" validate:"max=5000"`
	TimeSlots   []models.TimeSlot `json:"timeSlots" validate:"required,min=1"`
	Speakers    []SpeakerInput    `json:"speakers" validate:"dive"`
	Sponsors    []SponsorInput    `json:"sponsors" validate:"dive"`
}

// SubmitApplicationRequest creates a new application for the caller's club.
type SubmitApplicationRequest struct {
	ApplicationFacts
}

// EditApplicationRequest replaces the facts of a re-opened application.
type EditApplicationRequest struct {
	ApplicationFacts
}

// DecisionRequest carries a reviewer verdict. Reason is mandatory for rejections.
type DecisionRequest struct {
	Decision models.DecisionStatus `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Reason   string                `json:"reason" validate:"max=1000"`
}

// ReopenRequest selects what a re-open makes editable.
type ReopenRequest struct {
	Scope models.ReopenScope `json:"scope" validate:"required,oneof=documentsOnly infoOnly both"`
}

// FileUpload is a file received from the API layer.
type FileUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// ApplicationQuery mirrors listing filters.
type ApplicationQuery struct {
	ClubID string `form:"clubId"`
	Page   int    `form:"page"`
	Size   int    `form:"pageSize"`
}

// ApplicationDetail is the full read model of one application.
type ApplicationDetail struct {
	models.ApplicationView
	Documents []models.DocumentView `json:"documents"`
	ImageURL  string                `json:"imageUrl,omitempty"`
}

// EditResult reports whether an edit changed anything.
type EditResult struct {
	Application   *models.Application `json:"application"`
	Changed       bool                `json:"changed"`
	ChangedFields []string            `json:"changedFields"`
}
