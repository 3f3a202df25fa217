package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

type revisionFixture struct {
	svc      *RevisionService
	apps     *fakeApps
	revs     *fakeRevisions
	blobs    *memBlobs
	cleanup  *recordingCleanup
	ledger   *recordingLedger
	notifier *recordingNotifier
	metrics  *MetricsService
	app      *models.Application
}

func newRevisionFixture() *revisionFixture {
	apps := newFakeApps()
	revs := newFakeRevisions(apps)
	blobs := newMemBlobs()
	cleanup := &recordingCleanup{}
	ledger := &recordingLedger{}
	notifier := &recordingNotifier{}
	metrics := NewMetricsService()
	svc := NewRevisionService(revs, apps, blobs, cleanup, ledger, notifier, metrics, UploadPolicy{}, nil)
	svc.now = func() time.Time { return fixedNow }
	return &revisionFixture{
		svc: svc, apps: apps, revs: revs, blobs: blobs, cleanup: cleanup,
		ledger: ledger, notifier: notifier, metrics: metrics, app: apps.seed("club-1"),
	}
}

func (fx *revisionFixture) create(t *testing.T, facets ...models.RevisionFacet) *models.RevisionRequest {
	t.Helper()
	rev, err := fx.svc.Create(context.Background(), fx.app.ID, dto.CreateRevisionRequest{Facets: facets}, clubActor)
	require.NoError(t, err)
	return rev
}

func addSpeaker(name string) dto.DeltaInput {
	return dto.DeltaInput{Op: models.DeltaOpAdd, Name: name}
}

func removeTarget(id string) dto.DeltaInput {
	return dto.DeltaInput{Op: models.DeltaOpRemove, TargetID: id}
}

func speakerNames(rows []models.Speaker) []string {
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.FullName)
	}
	return names
}

func TestRevisionCreateValidation(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, fx.app.ID, dto.CreateRevisionRequest{}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Create(ctx, fx.app.ID, dto.CreateRevisionRequest{Facets: []models.RevisionFacet{"budget"}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Create(ctx, "missing", dto.CreateRevisionRequest{Facets: []models.RevisionFacet{models.FacetImage}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = fx.svc.Create(ctx, fx.app.ID, dto.CreateRevisionRequest{Facets: []models.RevisionFacet{models.FacetImage}}, otherClub)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	rev := fx.create(t, models.FacetSpeakers, models.FacetSpeakers, models.FacetImage)
	require.Equal(t, models.RevisionStatusPending, rev.Status)
	require.Equal(t, []string{"speakers", "image"}, []string(rev.SelectedFacets))
}

func TestRevisionStagingRequiresSelectedFacet(t *testing.T) {
	fx := newRevisionFixture()
	rev := fx.create(t, models.FacetSpeakers)

	_, err := fx.svc.StageImage(context.Background(), rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.StageSponsorDeltas(context.Background(), rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Globex")}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.StageSpeakerDeltas(context.Background(), rev.ID, "other-app", dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Bo")}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = fx.svc.StageSpeakerDeltas(context.Background(), rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{{Op: models.DeltaOpRemove}}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	require.Empty(t, fx.blobs.paths(""))
}

func TestRevisionImageCommitPromotesAndCleansUp(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	old := storage.ObjectPath("club-1", fx.app.ID, storage.FolderImage, "old.png")
	fx.apps.apps[fx.app.ID].ImagePath = &old
	fx.blobs.put(old)

	rev := fx.create(t, models.FacetImage)
	staged, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.NoError(t, err)
	pending := *staged.ImagePendingPath
	require.Equal(t, storage.PendingPath("club-1", fx.app.ID, storage.FolderImage, rev.ID, "cover.png"), pending)
	require.True(t, fx.blobs.has(pending))
	require.Equal(t, old, *fx.apps.apps[fx.app.ID].ImagePath, "live image untouched while pending")

	_, err = fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.NoError(t, err)
	applied, err := fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusApplied, applied.Status)

	final := storage.ObjectPath("club-1", fx.app.ID, storage.FolderImage, rev.ID+"-cover.png")
	require.Equal(t, final, *fx.apps.apps[fx.app.ID].ImagePath)
	require.Equal(t, []string{final}, fx.blobs.paths(""))
	require.Equal(t, models.NotificationApplied, fx.notifier.events[len(fx.notifier.events)-1].Kind)
	require.EqualValues(t, 2, fx.metrics.Snapshot().Decisions)
}

func TestRevisionRestagingImageDropsPreviousPendingBlob(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetImage)

	first, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("a.png"), clubActor)
	require.NoError(t, err)
	second, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("b.png"), clubActor)
	require.NoError(t, err)

	require.False(t, fx.blobs.has(*first.ImagePendingPath))
	require.True(t, fx.blobs.has(*second.ImagePendingPath))
}

func TestRevisionSpeakerDeltasApplyInOrder(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSpeakers)

	staged, err := fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Alan"), addSpeaker("Barbara")}}, clubActor)
	require.NoError(t, err)
	require.Len(t, staged.Deltas, 2)
	alanID := staged.Deltas[0].TargetID

	staged, err = fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{removeTarget(alanID), removeTarget("sp-1"), removeTarget("no-such-speaker")}}, clubActor)
	require.NoError(t, err)
	require.Len(t, staged.Deltas, 5)
	require.Equal(t, 5, staged.Deltas[4].Seq)

	require.Equal(t, []string{"Ada"}, speakerNames(fx.apps.speakers[fx.app.ID]), "nothing applied before approval")

	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	applied, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusApplied, applied.Status)
	require.Equal(t, []string{"Barbara"}, speakerNames(fx.apps.speakers[fx.app.ID]))
}

func TestRevisionBoardRejectionDiscardsSponsorDeltas(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSponsors)

	_, err := fx.svc.StageSponsorDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{{Op: models.DeltaOpAdd, Name: "Globex", Contribution: "venue"}}}, clubActor)
	require.NoError(t, err)

	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	rejected, err := fx.svc.Decide(ctx, rev.ID, reject("incomplete sponsor detail"), boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusRejected, rejected.Status)
	require.Equal(t, "incomplete sponsor detail", rejected.BoardApproval.Reason)

	require.Len(t, fx.apps.sponsors[fx.app.ID], 1)
	require.Equal(t, "Acme", fx.apps.sponsors[fx.app.ID][0].Name)
	require.Zero(t, fx.revs.applyCalls)
}

func TestRevisionClosedRevisionIgnoresFurtherDecisions(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSponsors)

	_, err := fx.svc.Decide(ctx, rev.ID, reject("not now"), advisorActor)
	require.NoError(t, err)
	entries := len(fx.ledger.entries)

	after, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusRejected, after.Status)
	require.Nil(t, after.BoardApproval)
	require.Len(t, fx.ledger.entries, entries)

	_, err = fx.svc.Commit(ctx, rev.ID, adminActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = fx.svc.StageSponsorDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Late")}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRevisionStagingClosesOnceReviewStarts(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSpeakers)

	_, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.NoError(t, err)

	_, err = fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Late")}}, clubActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRevisionCommitFailureIsRetryable(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetImage, models.FacetSpeakers)
	_, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.NoError(t, err)
	_, err = fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Grace")}}, clubActor)
	require.NoError(t, err)
	fx.revs.failApply = errors.New("deadlock detected")

	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	current, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.Error(t, err)
	require.ErrorIs(t, err, appErrors.ErrPersistence)

	commitErr, ok := appErrors.AsCommitError(err)
	require.True(t, ok)
	require.Equal(t, appErrors.CommitStepApplyRows, commitErr.Step)
	require.Equal(t, rev.ID, commitErr.RevisionID)

	require.NotNil(t, current)
	require.True(t, current.CommitFailed())
	require.Equal(t, string(appErrors.CommitStepApplyRows), *current.CommitStep)
	require.Equal(t, []string{"Ada"}, speakerNames(fx.apps.speakers[fx.app.ID]))
	require.EqualValues(t, 1, fx.metrics.Snapshot().CommitFailures)

	// the copy survived but its marker did not
	fx.revs.revs[rev.ID].ImageFinalPath = nil

	applied, err := fx.svc.Commit(ctx, rev.ID, boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusApplied, applied.Status)
	require.Nil(t, applied.CommitError)
	require.Equal(t, 1, fx.blobs.copies)
	require.Equal(t, []string{"Ada", "Grace"}, speakerNames(fx.apps.speakers[fx.app.ID]))
	require.Equal(t, *applied.ImageFinalPath, *fx.apps.apps[fx.app.ID].ImagePath)

	again, err := fx.svc.Commit(ctx, rev.ID, boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusApplied, again.Status)
	require.Equal(t, 2, fx.revs.applyCalls)
}

func TestRevisionCommitRequiresDualApproval(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSponsors)

	_, err := fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)

	_, err = fx.svc.Commit(ctx, rev.ID, boardActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = fx.svc.Commit(ctx, rev.ID, clubActor)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRevisionRejectionQueuesCleanupWhenDeleteFails(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetImage)
	staged, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.NoError(t, err)
	pending := *staged.ImagePendingPath
	fx.blobs.failDelete[pending] = errors.New("bucket unavailable")

	rejected, err := fx.svc.Decide(ctx, rev.ID, reject("blurry"), advisorActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusRejected, rejected.Status)
	require.Equal(t, [][]string{{pending}}, fx.cleanup.jobs)
	require.Nil(t, fx.apps.apps[fx.app.ID].ImagePath)
}

func TestRevisionListAndVisibility(t *testing.T) {
	fx := newRevisionFixture()
	rev := fx.create(t, models.FacetImage)

	got, err := fx.svc.Get(context.Background(), rev.ID, advisorActor)
	require.NoError(t, err)
	require.Equal(t, rev.ID, got.ID)

	_, err = fx.svc.Get(context.Background(), rev.ID, otherClub)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	list, err := fx.svc.List(context.Background(), fx.app.ID, clubActor)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = fx.svc.Get(context.Background(), "missing", boardActor)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRevisionRejectAfterFailedCommitDiscardsPromotedImage(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetImage, models.FacetSpeakers)
	_, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.NoError(t, err)
	_, err = fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Grace")}}, clubActor)
	require.NoError(t, err)
	fx.revs.failApply = errors.New("deadlock detected")

	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	failed, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.Error(t, err)
	require.NotNil(t, failed.ImageFinalPath)
	require.True(t, fx.blobs.has(*failed.ImageFinalPath))

	rejected, err := fx.svc.Decide(ctx, rev.ID, reject("venue changed"), boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusRejected, rejected.Status)
	require.Empty(t, fx.blobs.paths(""))
	require.Empty(t, fx.cleanup.jobs)
	require.Nil(t, fx.apps.apps[fx.app.ID].ImagePath)
	require.Equal(t, []string{"Ada"}, speakerNames(fx.apps.speakers[fx.app.ID]))
}

func TestRevisionRejectKeepsPromotedImageWhenLive(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetImage)
	_, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.NoError(t, err)
	fx.revs.failApply = errors.New("deadlock detected")
	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	failed, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.Error(t, err)

	final := *failed.ImageFinalPath
	fx.apps.apps[fx.app.ID].ImagePath = &final

	_, err = fx.svc.Decide(ctx, rev.ID, reject("venue changed"), advisorActor)
	require.NoError(t, err)
	require.Equal(t, []string{final}, fx.blobs.paths(""))
}

func TestRevisionSingleBatchRemoveByRef(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSpeakers)

	alan := addSpeaker("Alan")
	alan.Ref = "a"
	staged, err := fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{
		alan, addSpeaker("Barbara"), {Op: models.DeltaOpRemove, TargetRef: "a"},
	}}, clubActor)
	require.NoError(t, err)
	require.Len(t, staged.Deltas, 3)
	require.Equal(t, staged.Deltas[0].TargetID, staged.Deltas[2].TargetID)

	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	applied, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusApplied, applied.Status)
	require.Equal(t, []string{"Ada", "Barbara"}, speakerNames(fx.apps.speakers[fx.app.ID]))
}

func TestRevisionBatchRefValidation(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSponsors)
	stage := func(ops ...dto.DeltaInput) error {
		_, err := fx.svc.StageSponsorDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: ops}, clubActor)
		return err
	}

	first := dto.DeltaInput{Op: models.DeltaOpAdd, Name: "Globex", Ref: "g"}
	second := dto.DeltaInput{Op: models.DeltaOpAdd, Name: "Initech", Ref: "g"}
	require.ErrorIs(t, stage(first, second), appErrors.ErrValidation)
	require.ErrorIs(t, stage(dto.DeltaInput{Op: models.DeltaOpRemove, TargetRef: "g"}), appErrors.ErrValidation)
	require.ErrorIs(t, stage(first, dto.DeltaInput{Op: models.DeltaOpRemove, TargetRef: "g", TargetID: "so-1"}), appErrors.ErrValidation)
	require.Empty(t, fx.revs.deltas[rev.ID])
}

func TestRevisionCommitReportsLoadStep(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSpeakers)
	_, err := fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Grace")}}, clubActor)
	require.NoError(t, err)
	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	fx.apps.failGet = errors.New("connection reset")

	current, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.ErrorIs(t, err, appErrors.ErrPersistence)
	commitErr, ok := appErrors.AsCommitError(err)
	require.True(t, ok)
	require.Equal(t, appErrors.CommitStepLoad, commitErr.Step)
	require.Equal(t, string(appErrors.CommitStepLoad), *current.CommitStep)
	require.Zero(t, fx.revs.applyCalls)
}

func TestRevisionRejectionLosingToCommitKeepsAppliedState(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetImage)
	staged, err := fx.svc.StageImage(ctx, rev.ID, fx.app.ID, pngUpload("cover.png"), clubActor)
	require.NoError(t, err)
	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)

	final := storage.ObjectPath("club-1", fx.app.ID, storage.FolderImage, rev.ID+"-cover.png")
	fx.revs.beforeReject = func(stored *models.RevisionRequest) {
		fx.blobs.put(final)
		stored.ImageFinalPath = &final
		stored.Status = models.RevisionStatusApplied
		fx.apps.apps[fx.app.ID].ImagePath = &final
	}

	current, err := fx.svc.Decide(ctx, rev.ID, reject("too late"), boardActor)
	require.NoError(t, err)
	require.Equal(t, models.RevisionStatusApplied, current.Status)
	require.True(t, fx.blobs.has(final))
	require.True(t, fx.blobs.has(*staged.ImagePendingPath))
	require.Empty(t, fx.cleanup.jobs)
}

func TestRevisionCommitLosingToRejectionIsConflict(t *testing.T) {
	fx := newRevisionFixture()
	ctx := context.Background()
	rev := fx.create(t, models.FacetSpeakers)
	_, err := fx.svc.StageSpeakerDeltas(ctx, rev.ID, fx.app.ID, dto.StageDeltasRequest{Ops: []dto.DeltaInput{addSpeaker("Grace")}}, clubActor)
	require.NoError(t, err)
	_, err = fx.svc.Decide(ctx, rev.ID, approve(), advisorActor)
	require.NoError(t, err)
	fx.revs.beforeApply = func(stored *models.RevisionRequest) {
		stored.AdvisorApproval = models.Reject("advisor-1", "second thoughts", fixedNow)
	}

	current, err := fx.svc.Decide(ctx, rev.ID, approve(), boardActor)
	require.ErrorIs(t, err, appErrors.ErrConflict)
	_, isCommitErr := appErrors.AsCommitError(err)
	require.False(t, isCommitErr)
	require.Equal(t, models.RevisionStatusPending, current.Status)
	require.Equal(t, []string{"Ada"}, speakerNames(fx.apps.speakers[fx.app.ID]))
	require.Zero(t, fx.metrics.Snapshot().CommitFailures)
}
