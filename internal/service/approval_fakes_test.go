package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/club-approval-api/internal/dto"
	"github.com/noah-isme/club-approval-api/internal/models"
	"github.com/noah-isme/club-approval-api/internal/repository"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

var (
	clubActor    = &models.ActorClaims{UserID: "member-1", Role: models.RoleClub, ClubID: "club-1"}
	otherClub    = &models.ActorClaims{UserID: "member-9", Role: models.RoleClub, ClubID: "club-9"}
	advisorActor = &models.ActorClaims{UserID: "advisor-1", Role: models.RoleAdvisor}
	boardActor   = &models.ActorClaims{UserID: "board-1", Role: models.RoleBoard}
	adminActor   = &models.ActorClaims{UserID: "admin-1", Role: models.RoleAdmin}

	fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func approve() dto.DecisionRequest {
	return dto.DecisionRequest{Decision: models.DecisionApproved}
}

func reject(reason string) dto.DecisionRequest {
	return dto.DecisionRequest{Decision: models.DecisionRejected, Reason: reason}
}

func pngUpload(name string) *dto.FileUpload {
	content := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("x", 32))
	return &dto.FileUpload{FileName: name, ContentType: "image/png", Size: int64(len(content)), Reader: bytes.NewReader(content)}
}

func pdfUpload(name string) *dto.FileUpload {
	content := []byte("%PDF-1.4 test document")
	return &dto.FileUpload{FileName: name, ContentType: "application/pdf", Size: int64(len(content)), Reader: bytes.NewReader(content)}
}

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	mu          sync.Mutex
	objects     map[string][]byte
	copies      int
	failUpload  error
	failCopy    error
	failDelete  map[string]error
	deleteCalls int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte), failDelete: make(map[string]error)}
}

func (m *memBlobs) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if m.failUpload != nil {
		return m.failUpload
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectPath] = data
	return nil
}

func (m *memBlobs) Copy(ctx context.Context, srcPath, dstPath string) error {
	if m.failCopy != nil {
		return m.failCopy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcPath]
	if !ok {
		return storage.ErrObjectNotFound
	}
	m.copies++
	m.objects[dstPath] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobs) Delete(ctx context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	for _, p := range paths {
		if err := m.failDelete[p]; err != nil {
			return err
		}
	}
	for _, p := range paths {
		delete(m.objects, p)
	}
	return nil
}

func (m *memBlobs) Exists(ctx context.Context, objectPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectPath]
	return ok, nil
}

func (m *memBlobs) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + objectPath, nil
}

func (m *memBlobs) has(path string) bool {
	ok, _ := m.Exists(context.Background(), path)
	return ok
}

func (m *memBlobs) put(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = []byte("blob")
}

func (m *memBlobs) paths(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// fakeApps stores applications with their speaker and sponsor rows.
type fakeApps struct {
	apps     map[string]*models.Application
	speakers map[string][]models.Speaker
	sponsors map[string][]models.Sponsor
	history  *fakeHistory
	updates  int
	failGet  error
}

func newFakeApps() *fakeApps {
	return &fakeApps{
		apps:     make(map[string]*models.Application),
		speakers: make(map[string][]models.Speaker),
		sponsors: make(map[string][]models.Sponsor),
		history:  &fakeHistory{entries: make(map[string][]models.ApplicationHistory)},
	}
}

func (f *fakeApps) seed(clubID string) *models.Application {
	app := &models.Application{
		ID:        uuid.NewString(),
		ClubID:    clubID,
		Title:     "Robotics Expo",
		EventType: "exhibition",
		Venue:     "Main Hall",
		TimeSlots: models.TimeSlots{{StartsAt: fixedNow, EndsAt: fixedNow.Add(2 * time.Hour)}},
		CreatedAt: fixedNow,
	}
	f.apps[app.ID] = app
	f.speakers[app.ID] = []models.Speaker{{ID: "sp-1", ApplicationID: app.ID, FullName: "Ada", Topic: "Motors"}}
	f.sponsors[app.ID] = []models.Sponsor{{ID: "so-1", ApplicationID: app.ID, Name: "Acme", Contribution: "snacks"}}
	return app
}

func (f *fakeApps) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	app.CreatedAt = fixedNow
	app.UpdatedAt = fixedNow
	stored := *app
	f.apps[app.ID] = &stored
	f.speakers[app.ID] = assignSpeakerIDs(app.ID, app.Speakers)
	f.sponsors[app.ID] = assignSponsorIDs(app.ID, app.Sponsors)
	return nil
}

func (f *fakeApps) GetByID(ctx context.Context, id string) (*models.Application, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	app, ok := f.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *app
	cp.Speakers, cp.Sponsors, cp.Documents = nil, nil, nil
	return &cp, nil
}

func (f *fakeApps) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := f.apps[id]
	return ok, nil
}

func (f *fakeApps) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	var out []models.Application
	for _, app := range f.apps {
		if filter.ClubID != "" && app.ClubID != filter.ClubID {
			continue
		}
		out = append(out, *app)
	}
	return out, nil
}

func (f *fakeApps) ListSpeakers(ctx context.Context, applicationID string) ([]models.Speaker, error) {
	return append([]models.Speaker(nil), f.speakers[applicationID]...), nil
}

func (f *fakeApps) ListSponsors(ctx context.Context, applicationID string) ([]models.Sponsor, error) {
	return append([]models.Sponsor(nil), f.sponsors[applicationID]...), nil
}

func (f *fakeApps) SetAdvisorDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	app, ok := f.apps[id]
	if !ok {
		return sql.ErrNoRows
	}
	app.AdvisorApproval = decision
	return nil
}

func (f *fakeApps) SetBoardDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	app, ok := f.apps[id]
	if !ok || !app.AdvisorApproval.IsApproved() {
		return sql.ErrNoRows
	}
	app.BoardApproval = decision
	return nil
}

func (f *fakeApps) Reopen(ctx context.Context, history *models.ApplicationHistory, resetApprovals bool) error {
	app, ok := f.apps[history.ApplicationID]
	if !ok {
		return errors.New("foreign key violation")
	}
	if err := f.history.Append(ctx, nil, history); err != nil {
		return err
	}
	if resetApprovals {
		app.AdvisorApproval = nil
		app.BoardApproval = nil
	}
	return nil
}

func (f *fakeApps) UpdateInfo(ctx context.Context, app *models.Application) error {
	if _, ok := f.apps[app.ID]; !ok {
		return sql.ErrNoRows
	}
	f.updates++
	app.RevisionFlag = true
	stored := *app
	stored.Speakers, stored.Sponsors, stored.Documents = nil, nil, nil
	f.apps[app.ID] = &stored
	f.speakers[app.ID] = assignSpeakerIDs(app.ID, app.Speakers)
	f.sponsors[app.ID] = assignSponsorIDs(app.ID, app.Sponsors)
	return nil
}

func assignSpeakerIDs(applicationID string, speakers []models.Speaker) []models.Speaker {
	out := make([]models.Speaker, len(speakers))
	for i, sp := range speakers {
		if sp.ID == "" {
			sp.ID = uuid.NewString()
		}
		sp.ApplicationID = applicationID
		out[i] = sp
	}
	return out
}

func assignSponsorIDs(applicationID string, sponsors []models.Sponsor) []models.Sponsor {
	out := make([]models.Sponsor, len(sponsors))
	for i, sp := range sponsors {
		if sp.ID == "" {
			sp.ID = uuid.NewString()
		}
		sp.ApplicationID = applicationID
		out[i] = sp
	}
	return out
}

type fakeHistory struct {
	entries map[string][]models.ApplicationHistory
}

func (f *fakeHistory) Append(ctx context.Context, _ interface{}, h *models.ApplicationHistory) error {
	h.Seq = len(f.entries[h.ApplicationID]) + 1
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	f.entries[h.ApplicationID] = append(f.entries[h.ApplicationID], *h)
	return nil
}

func (f *fakeHistory) ListByApplication(ctx context.Context, applicationID string) ([]models.ApplicationHistory, error) {
	return append([]models.ApplicationHistory(nil), f.entries[applicationID]...), nil
}

// fakeDocs mirrors the document repository including the board gate.
type fakeDocs struct {
	docs       map[string]*models.Document
	order      []string
	apps       *fakeApps
	failCreate error
	lists      int
}

func newFakeDocs(apps *fakeApps) *fakeDocs {
	return &fakeDocs{docs: make(map[string]*models.Document), apps: apps}
}

func (f *fakeDocs) seed(applicationID string, docType models.DocumentType, path string) *models.Document {
	doc := &models.Document{ID: uuid.NewString(), ApplicationID: applicationID, Scope: models.DocumentScopePrimary, Type: docType, FilePath: path}
	f.docs[doc.ID] = doc
	f.order = append(f.order, doc.ID)
	return doc
}

func (f *fakeDocs) Create(ctx context.Context, doc *models.Document) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Scope == "" {
		doc.Scope = models.DocumentScopePrimary
	}
	stored := *doc
	f.docs[doc.ID] = &stored
	f.order = append(f.order, doc.ID)
	return nil
}

func (f *fakeDocs) GetByID(ctx context.Context, id string) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocs) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	f.lists++
	var out []models.Document
	for _, id := range f.order {
		doc, ok := f.docs[id]
		if !ok {
			continue
		}
		if filter.ApplicationID != "" && doc.ApplicationID != filter.ApplicationID {
			continue
		}
		if filter.Scope != "" && doc.Scope != filter.Scope {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.AwaitingBoard && !(doc.AdvisorApproval.IsApproved() && doc.BoardApproval == nil) {
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (f *fakeDocs) SetAdvisorDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	doc, ok := f.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.AdvisorApproval = decision
	return nil
}

func (f *fakeDocs) SetBoardDecision(ctx context.Context, id string, decision *models.ApprovalDecision) error {
	doc, ok := f.docs[id]
	if !ok || !doc.AdvisorApproval.IsApproved() {
		return sql.ErrNoRows
	}
	doc.BoardApproval = decision
	return nil
}

func (f *fakeDocs) ReplaceByType(ctx context.Context, doc *models.Document, removeBlobs repository.BlobRemover) ([]models.Document, error) {
	if doc.Scope == "" {
		doc.Scope = models.DocumentScopePrimary
	}
	replaced, _ := f.List(ctx, models.DocumentFilter{ApplicationID: doc.ApplicationID, Scope: doc.Scope, Type: doc.Type})
	paths := make([]string, 0, len(replaced))
	for _, old := range replaced {
		paths = append(paths, old.FilePath)
	}
	if len(replaced) > 0 {
		if err := removeBlobs(ctx, paths); err != nil {
			return nil, err
		}
	}
	for _, old := range replaced {
		delete(f.docs, old.ID)
	}
	doc.AdvisorApproval, doc.BoardApproval = nil, nil
	stored := *doc
	f.docs[doc.ID] = &stored
	f.order = append(f.order, doc.ID)
	if app, ok := f.apps.apps[doc.ApplicationID]; ok {
		app.RevisionFlag = true
	}
	return replaced, nil
}

// fakeRevisions replays revisions onto fakeApps the way ApplyRevision does in SQL.
type fakeRevisions struct {
	revs        map[string]*models.RevisionRequest
	deltas      map[string][]models.RevisionDelta
	apps        *fakeApps
	failApply   error
	applyCalls  int
	markedFinal int
	// beforeReject runs ahead of MarkRejected to interleave a concurrent writer.
	beforeReject func(rev *models.RevisionRequest)
	beforeApply  func(rev *models.RevisionRequest)
}

func newFakeRevisions(apps *fakeApps) *fakeRevisions {
	return &fakeRevisions{revs: make(map[string]*models.RevisionRequest), deltas: make(map[string][]models.RevisionDelta), apps: apps}
}

func (f *fakeRevisions) Create(ctx context.Context, rev *models.RevisionRequest) error {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	stored := *rev
	f.revs[rev.ID] = &stored
	return nil
}

func (f *fakeRevisions) GetByID(ctx context.Context, id string) (*models.RevisionRequest, error) {
	rev, ok := f.revs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *rev
	cp.Deltas = nil
	return &cp, nil
}

func (f *fakeRevisions) List(ctx context.Context, filter models.RevisionFilter) ([]models.RevisionRequest, error) {
	var out []models.RevisionRequest
	for _, rev := range f.revs {
		if filter.ApplicationID == "" || rev.ApplicationID == filter.ApplicationID {
			out = append(out, *rev)
		}
	}
	return out, nil
}

func (f *fakeRevisions) ListDeltas(ctx context.Context, revisionID string) ([]models.RevisionDelta, error) {
	return append([]models.RevisionDelta(nil), f.deltas[revisionID]...), nil
}

func (f *fakeRevisions) pending(id string) (*models.RevisionRequest, error) {
	rev, ok := f.revs[id]
	if !ok || rev.Status != models.RevisionStatusPending {
		return nil, sql.ErrNoRows
	}
	return rev, nil
}

func (f *fakeRevisions) StageImage(ctx context.Context, id string, oldPath *string, pendingPath, fileName string) error {
	rev, err := f.pending(id)
	if err != nil {
		return err
	}
	rev.ImageOldPath = oldPath
	rev.ImagePendingPath = &pendingPath
	rev.ImageFileName = &fileName
	return nil
}

func (f *fakeRevisions) AppendDeltas(ctx context.Context, revisionID string, deltas []models.RevisionDelta) error {
	next := len(f.deltas[revisionID]) + 1
	for i := range deltas {
		deltas[i].ID = uuid.NewString()
		deltas[i].RevisionID = revisionID
		deltas[i].Seq = next + i
		f.deltas[revisionID] = append(f.deltas[revisionID], deltas[i])
	}
	return nil
}

func (f *fakeRevisions) SetDecision(ctx context.Context, id string, role models.ActorRole, decision *models.ApprovalDecision) error {
	rev, err := f.pending(id)
	if err != nil {
		return err
	}
	if role == models.RoleAdvisor {
		rev.AdvisorApproval = decision
	} else {
		rev.BoardApproval = decision
	}
	return nil
}

func (f *fakeRevisions) MarkRejected(ctx context.Context, id string) error {
	if f.beforeReject != nil {
		if rev, ok := f.revs[id]; ok {
			f.beforeReject(rev)
		}
	}
	rev, err := f.pending(id)
	if err != nil {
		return err
	}
	rev.Status = models.RevisionStatusRejected
	return nil
}

func (f *fakeRevisions) MarkImageFinalized(ctx context.Context, id, finalPath string) error {
	rev, ok := f.revs[id]
	if !ok {
		return sql.ErrNoRows
	}
	f.markedFinal++
	rev.ImageFinalPath = &finalPath
	return nil
}

func (f *fakeRevisions) RecordCommitFailure(ctx context.Context, id, step, message string) error {
	rev, err := f.pending(id)
	if err != nil {
		return err
	}
	rev.CommitStep = &step
	rev.CommitError = &message
	return nil
}

func (f *fakeRevisions) ApplyRevision(ctx context.Context, rev *models.RevisionRequest, deltas []models.RevisionDelta) error {
	f.applyCalls++
	if f.beforeApply != nil {
		if stored, ok := f.revs[rev.ID]; ok {
			f.beforeApply(stored)
		}
	}
	if f.failApply != nil {
		err := f.failApply
		f.failApply = nil
		return err
	}
	stored, err := f.pending(rev.ID)
	if err != nil {
		return err
	}
	if !stored.DualApproved() {
		return sql.ErrNoRows
	}
	app := f.apps.apps[rev.ApplicationID]
	if rev.ImageFinalPath != nil {
		path := *rev.ImageFinalPath
		app.ImagePath = &path
	}
	for _, d := range deltas {
		switch d.Facet {
		case models.FacetSpeakers:
			f.apps.speakers[app.ID] = applySpeakerDelta(f.apps.speakers[app.ID], app.ID, d)
		case models.FacetSponsors:
			f.apps.sponsors[app.ID] = applySponsorDelta(f.apps.sponsors[app.ID], app.ID, d)
		}
	}
	stored.Status = models.RevisionStatusApplied
	stored.CommitError, stored.CommitStep = nil, nil
	return nil
}

func applySpeakerDelta(rows []models.Speaker, applicationID string, d models.RevisionDelta) []models.Speaker {
	if d.Op == models.DeltaOpAdd {
		for _, r := range rows {
			if r.ID == d.TargetID {
				return rows
			}
		}
		return append(rows, models.Speaker{ID: d.TargetID, ApplicationID: applicationID, FullName: d.Fields.Name, Affiliation: d.Fields.Affiliation, Topic: d.Fields.Topic})
	}
	out := rows[:0]
	for _, r := range rows {
		if r.ID != d.TargetID {
			out = append(out, r)
		}
	}
	return out
}

func applySponsorDelta(rows []models.Sponsor, applicationID string, d models.RevisionDelta) []models.Sponsor {
	if d.Op == models.DeltaOpAdd {
		for _, r := range rows {
			if r.ID == d.TargetID {
				return rows
			}
		}
		return append(rows, models.Sponsor{ID: d.TargetID, ApplicationID: applicationID, Name: d.Fields.Name, Contribution: d.Fields.Contribution})
	}
	out := rows[:0]
	for _, r := range rows {
		if r.ID != d.TargetID {
			out = append(out, r)
		}
	}
	return out
}

type recordingLedger struct {
	entries []models.LedgerEntry
}

func (l *recordingLedger) Record(ctx context.Context, category models.LedgerCategory, entityID, applicationID string, role models.ActorRole, decision *models.ApprovalDecision) {
	l.entries = append(l.entries, *models.NewLedgerEntry(category, entityID, applicationID, role, decision))
}

type recordingNotifier struct {
	events []models.NotificationEvent
	err    error
}

func (n *recordingNotifier) Publish(ctx context.Context, event models.NotificationEvent) error {
	n.events = append(n.events, event)
	return n.err
}

type recordingCleanup struct {
	jobs [][]string
}

func (c *recordingCleanup) EnqueueBlobCleanup(revisionID string, paths []string) error {
	c.jobs = append(c.jobs, paths)
	return nil
}

// memCache satisfies CacheRepository.
type memCache struct {
	values map[string][]byte
	sets   int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.sets++
	c.values[key] = raw
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	return nil
}
