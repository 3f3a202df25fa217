package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TimeSlot is one scheduled block of an event.
type TimeSlot struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

// TimeSlots is an ordered slot list persisted as JSONB.
type TimeSlots []TimeSlot

// Value implements driver.Valuer.
func (t TimeSlots) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner.
func (t *TimeSlots) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = TimeSlots{}
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("scan time slots: unsupported type %T", src)
	}
}

// Equal compares slots by instant, ignoring location.
func (t TimeSlots) Equal(other TimeSlots) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if !t[i].StartsAt.Equal(other[i].StartsAt) || !t[i].EndsAt.Equal(other[i].EndsAt) {
			return false
		}
	}
	return true
}

// Speaker is a guest speaker row scoped to one application.
type Speaker struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"applicationId"`
	FullName      string    `db:"full_name" json:"fullName"`
	Affiliation   string    `db:"affiliation" json:"affiliation"`
	Topic         string    `db:"topic" json:"topic"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Sponsor is a sponsor row scoped to one application.
type Sponsor struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"applicationId"`
	Name          string    `db:"name" json:"name"`
	Contribution  string    `db:"contribution" json:"contribution"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Application is one club's event submission.
type Application struct {
	ID              string            `db:"id" json:"id"`
	ClubID          string            `db:"club_id" json:"clubId"`
	Title           string            `db:"title" json:"title"`
	EventType       string            `db:"event_type" json:"eventType"`
	Venue           string            `db:"venue" json:"venue"`
	Description     string            `db:"description" json:"description"`
	TimeSlots       TimeSlots         `db:"time_slots" json:"timeSlots"`
	ImagePath       *string           `db:"image_path" json:"imagePath,omitempty"`
	AdvisorApproval *ApprovalDecision `db:"advisor_approval" json:"advisorApproval,omitempty"`
	BoardApproval   *ApprovalDecision `db:"board_approval" json:"boardApproval,omitempty"`
	RevisionFlag    bool              `db:"revision_flag" json:"revisionFlag"`
	SubmittedBy     string            `db:"submitted_by" json:"submittedBy"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`

	Speakers  []Speaker  `db:"-" json:"speakers"`
	Sponsors  []Sponsor  `db:"-" json:"sponsors"`
	Documents []Document `db:"-" json:"documents"`
}

// Status derives the workflow state from the stored decision pair.
func (a *Application) Status() ApplicationStatus {
	return DeriveApplicationStatus(a.AdvisorApproval, a.BoardApproval)
}

// ApplicationView is the read model returned to API callers.
type ApplicationView struct {
	Application
	Status ApplicationStatus `json:"status"`
}

// NewApplicationView attaches the derived status.
func NewApplicationView(app *Application) ApplicationView {
	return ApplicationView{Application: *app, Status: app.Status()}
}

// ApplicationFilter constrains listing queries.
type ApplicationFilter struct {
	ClubID string
	Limit  int
	Offset int
}
