package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ReopenScope selects which parts of an application a re-open makes editable.
type ReopenScope string

const (
	ReopenDocumentsOnly ReopenScope = "documentsOnly"
	ReopenInfoOnly      ReopenScope = "infoOnly"
	ReopenBoth          ReopenScope = "both"
)

// Valid reports whether the scope is known.
func (s ReopenScope) Valid() bool {
	return s == ReopenDocumentsOnly || s == ReopenInfoOnly || s == ReopenBoth
}

// ResetsApprovals reports whether re-opening with this scope clears application decisions.
func (s ReopenScope) ResetsApprovals() bool {
	return s == ReopenInfoOnly || s == ReopenBoth
}

// ApplicationHistory is the pre-change snapshot taken by each re-open.
type ApplicationHistory struct {
	ID            string         `db:"id" json:"id"`
	ApplicationID string         `db:"application_id" json:"applicationId"`
	Seq           int            `db:"seq" json:"seq"`
	Scope         ReopenScope    `db:"scope" json:"scope"`
	Snapshot      types.JSONText `db:"snapshot" json:"snapshot"`
	ReopenedBy    string         `db:"reopened_by" json:"reopenedBy"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}
