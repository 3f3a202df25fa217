package models

import "time"

// NotificationKind classifies events handed to the external notifier.
type NotificationKind string

const (
	NotificationSubmitted NotificationKind = "SUBMITTED"
	NotificationDecision  NotificationKind = "DECISION"
	NotificationApplied   NotificationKind = "REVISION_APPLIED"
)

// NotificationEvent is the logical event emitted after submissions and decisions.
// The core never formats message text.
type NotificationEvent struct {
	Kind          NotificationKind `json:"kind"`
	Category      LedgerCategory   `json:"category"`
	ApplicationID string           `json:"applicationId"`
	EntityID      string           `json:"entityId"`
	ActorID       string           `json:"actorId"`
	Role          ActorRole        `json:"role"`
	Decision      DecisionStatus   `json:"decision,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurredAt"`
}
