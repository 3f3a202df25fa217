package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
)

type reopenFixture struct {
	svc   *ReopenService
	apps  *fakeApps
	docs  *fakeDocs
	blobs *memBlobs
	app   *models.Application
}

func newReopenFixture() *reopenFixture {
	apps := newFakeApps()
	docs := newFakeDocs(apps)
	blobs := newMemBlobs()
	svc := NewReopenService(apps, apps.history, docs, blobs, nil, UploadPolicy{}, nil)
	svc.now = func() time.Time { return fixedNow }
	app := apps.seed("club-1")
	app.AdvisorApproval = models.Approve("advisor-1", fixedNow)
	app.BoardApproval = models.Approve("board-1", fixedNow)
	return &reopenFixture{svc: svc, apps: apps, docs: docs, blobs: blobs, app: app}
}

func (fx *reopenFixture) reopen(t *testing.T, scope models.ReopenScope) *models.ApplicationView {
	t.Helper()
	view, err := fx.svc.Reopen(context.Background(), fx.app.ID, dto.ReopenRequest{Scope: scope}, clubActor)
	require.NoError(t, err)
	return view
}

func currentFacts(fx *reopenFixture) dto.EditApplicationRequest {
	app := fx.apps.apps[fx.app.ID]
	facts := dto.ApplicationFacts{
		Title:       app.Title,
		EventType:   app.EventType,
		Venue:       app.Venue,
		Description: app.Description,
		TimeSlots:   append([]models.TimeSlot(nil), app.TimeSlots...),
	}
	for _, sp := range fx.apps.speakers[app.ID] {
		facts.Speakers = append(facts.Speakers, dto.SpeakerInput{FullName: sp.FullName, Affiliation: sp.Affiliation, Topic: sp.Topic})
	}
	for _, sp := range fx.apps.sponsors[app.ID] {
		facts.Sponsors = append(facts.Sponsors, dto.SponsorInput{Name: sp.Name, Contribution: sp.Contribution})
	}
	return dto.EditApplicationRequest{ApplicationFacts: facts}
}

func TestReopenDocumentsOnlyWithoutReplacementLeavesApplicationUntouched(t *testing.T) {
	fx := newReopenFixture()

	view := fx.reopen(t, models.ReopenDocumentsOnly)
	require.Equal(t, models.ApplicationStatusFullyApproved, view.Status)

	stored := fx.apps.apps[fx.app.ID]
	require.False(t, stored.RevisionFlag)
	require.True(t, stored.AdvisorApproval.IsApproved())
	require.True(t, stored.BoardApproval.IsApproved())

	history, err := fx.svc.History(context.Background(), fx.app.ID, clubActor)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 1, history[0].Seq)
	require.Equal(t, models.ReopenDocumentsOnly, history[0].Scope)
}

func TestReopenInfoScopeClearsDecisionsAndSnapshotsState(t *testing.T) {
	fx := newReopenFixture()
	fx.docs.seed(fx.app.ID, models.DocumentTypePoster, "poster.pdf")

	fx.reopen(t, models.ReopenDocumentsOnly)
	view := fx.reopen(t, models.ReopenInfoOnly)
	require.Equal(t, models.ApplicationStatusPendingAdvisor, view.Status)

	stored := fx.apps.apps[fx.app.ID]
	require.Nil(t, stored.AdvisorApproval)
	require.Nil(t, stored.BoardApproval)
	require.False(t, stored.RevisionFlag)

	entries := fx.apps.history.entries[fx.app.ID]
	require.Len(t, entries, 2)
	require.Equal(t, 2, entries[1].Seq)

	var snapshot models.ApplicationView
	require.NoError(t, json.Unmarshal(entries[1].Snapshot, &snapshot))
	require.Equal(t, "Robotics Expo", snapshot.Title)
	require.Equal(t, models.ApplicationStatusFullyApproved, snapshot.Status)
	require.True(t, snapshot.BoardApproval.IsApproved())
	require.Len(t, snapshot.Speakers, 1)
	require.Len(t, snapshot.Documents, 1)
}

func TestReopenUnknownApplication(t *testing.T) {
	fx := newReopenFixture()

	_, err := fx.svc.Reopen(context.Background(), "missing", dto.ReopenRequest{Scope: models.ReopenBoth}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = fx.svc.Reopen(context.Background(), fx.app.ID, dto.ReopenRequest{Scope: "everything"}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Reopen(context.Background(), fx.app.ID, dto.ReopenRequest{Scope: models.ReopenBoth}, otherClub)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestEditWithoutChangesDoesNotRaiseRevisionFlag(t *testing.T) {
	fx := newReopenFixture()
	fx.reopen(t, models.ReopenInfoOnly)

	result, err := fx.svc.Edit(context.Background(), fx.app.ID, currentFacts(fx), nil, clubActor)
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Empty(t, result.ChangedFields)
	require.Zero(t, fx.apps.updates)
	require.False(t, fx.apps.apps[fx.app.ID].RevisionFlag)
}

func TestEditWithChangesRaisesRevisionFlag(t *testing.T) {
	fx := newReopenFixture()
	fx.reopen(t, models.ReopenBoth)

	req := currentFacts(fx)
	req.Venue = "Auditorium"
	req.Sponsors = append(req.Sponsors, dto.SponsorInput{Name: "Globex"})

	result, err := fx.svc.Edit(context.Background(), fx.app.ID, req, nil, clubActor)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, []string{"venue", "sponsors"}, result.ChangedFields)

	stored := fx.apps.apps[fx.app.ID]
	require.True(t, stored.RevisionFlag)
	require.Equal(t, "Auditorium", stored.Venue)
	require.Len(t, fx.apps.sponsors[fx.app.ID], 2)
	require.Equal(t, "sp-1", fx.apps.speakers[fx.app.ID][0].ID, "unchanged speakers keep their ids")
}

func TestEditReplacesImage(t *testing.T) {
	fx := newReopenFixture()
	old := "club-1/" + fx.app.ID + "/image/old.png"
	fx.apps.apps[fx.app.ID].ImagePath = &old
	fx.blobs.put(old)
	fx.reopen(t, models.ReopenInfoOnly)

	result, err := fx.svc.Edit(context.Background(), fx.app.ID, currentFacts(fx), pngUpload("new.png"), clubActor)
	require.NoError(t, err)
	require.Equal(t, []string{"image"}, result.ChangedFields)

	stored := fx.apps.apps[fx.app.ID]
	require.NotNil(t, stored.ImagePath)
	require.True(t, strings.HasSuffix(*stored.ImagePath, "-new.png"))
	require.True(t, fx.blobs.has(*stored.ImagePath))
	require.False(t, fx.blobs.has(old))
}

func TestEditRequiresInfoReopen(t *testing.T) {
	fx := newReopenFixture()

	_, err := fx.svc.Edit(context.Background(), fx.app.ID, currentFacts(fx), nil, clubActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)

	fx.reopen(t, models.ReopenDocumentsOnly)
	fx.apps.apps[fx.app.ID].AdvisorApproval = nil
	_, err = fx.svc.Edit(context.Background(), fx.app.ID, currentFacts(fx), nil, clubActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)

	fx.reopen(t, models.ReopenInfoOnly)
	fx.apps.apps[fx.app.ID].AdvisorApproval = models.Approve("advisor-1", fixedNow)
	_, err = fx.svc.Edit(context.Background(), fx.app.ID, currentFacts(fx), nil, clubActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestReplaceDocumentSubstitutesEveryDocumentOfType(t *testing.T) {
	fx := newReopenFixture()
	first := fx.docs.seed(fx.app.ID, models.DocumentTypeBudgetPlan, "club-1/budget-v1.pdf")
	first.AdvisorApproval = models.Approve("advisor-1", fixedNow)
	second := fx.docs.seed(fx.app.ID, models.DocumentTypeBudgetPlan, "club-1/budget-v2.pdf")
	poster := fx.docs.seed(fx.app.ID, models.DocumentTypePoster, "club-1/poster.pdf")
	for _, d := range []*models.Document{first, second, poster} {
		fx.blobs.put(d.FilePath)
	}
	fx.reopen(t, models.ReopenDocumentsOnly)

	result, err := fx.svc.ReplaceDocument(context.Background(), fx.app.ID, dto.UploadDocumentRequest{Type: models.DocumentTypeBudgetPlan}, pdfUpload("budget-v3.pdf"), clubActor)
	require.NoError(t, err)
	require.Equal(t, 2, result.Replaced)
	require.Equal(t, models.DocumentStatusPending, result.Document.Status)

	budgets, err := fx.docs.List(context.Background(), models.DocumentFilter{ApplicationID: fx.app.ID, Type: models.DocumentTypeBudgetPlan})
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	require.Equal(t, result.Document.ID, budgets[0].ID)
	require.True(t, fx.blobs.has(budgets[0].FilePath))
	require.False(t, fx.blobs.has(first.FilePath))
	require.False(t, fx.blobs.has(second.FilePath))
	require.True(t, fx.blobs.has(poster.FilePath))

	stored := fx.apps.apps[fx.app.ID]
	require.True(t, stored.RevisionFlag)
	require.True(t, stored.AdvisorApproval.IsApproved(), "documentsOnly keeps application decisions")
}

func TestReplaceDocumentBlobFailureKeepsOldRows(t *testing.T) {
	fx := newReopenFixture()
	old := fx.docs.seed(fx.app.ID, models.DocumentTypeVenuePermit, "club-1/permit.pdf")
	fx.blobs.put(old.FilePath)
	fx.blobs.failDelete[old.FilePath] = errors.New("bucket unavailable")
	fx.reopen(t, models.ReopenBoth)

	_, err := fx.svc.ReplaceDocument(context.Background(), fx.app.ID, dto.UploadDocumentRequest{Type: models.DocumentTypeVenuePermit}, pdfUpload("permit-2.pdf"), clubActor)
	require.ErrorIs(t, err, appErrors.ErrStorage)

	require.Contains(t, fx.docs.docs, old.ID)
	require.Len(t, fx.docs.docs, 1)
	require.Equal(t, []string{old.FilePath}, fx.blobs.paths(""))
	require.False(t, fx.apps.apps[fx.app.ID].RevisionFlag)
}

func TestReplaceDocumentRequiresDocumentScope(t *testing.T) {
	fx := newReopenFixture()
	fx.reopen(t, models.ReopenInfoOnly)

	_, err := fx.svc.ReplaceDocument(context.Background(), fx.app.ID, dto.UploadDocumentRequest{Type: models.DocumentTypePoster}, pdfUpload("p.pdf"), clubActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)
	require.Empty(t, fx.blobs.paths(""))
}
