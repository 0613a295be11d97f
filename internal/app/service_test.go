package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"donorbase/api/internal/auth"
	"donorbase/api/internal/collab"
	"donorbase/api/internal/config"
	"donorbase/api/internal/realtime"
	"donorbase/api/internal/store"
)

type fakeStore struct {
	getActorFn            func(context.Context, string) (store.Actor, error)
	getActorByEmailFn     func(context.Context, string) (store.Actor, error)
	getDocumentFn         func(context.Context, string) (store.Document, error)
	listDocumentsFn       func(context.Context, string) ([]store.Document, error)
	insertDocumentFn      func(context.Context, store.Document) error
	updateDocumentFn      func(context.Context, string, string, string, string) error
	listCollaboratorsFn   func(context.Context, string) ([]store.Collaborator, error)
	upsertCollaboratorFn  func(context.Context, store.Collaborator) error
	removeCollaboratorFn  func(context.Context, string, string) error
	listCommentsFn        func(context.Context, string, *string) ([]store.Comment, error)
	insertCommentFn       func(context.Context, store.Comment) error
	listVersionsFn        func(context.Context, string, int) ([]store.VersionSnapshot, error)
	insertVersionFn       func(context.Context, store.VersionSnapshot) error
	storeCalls            int
	mu                    sync.Mutex
}

func (f *fakeStore) called() {
	f.mu.Lock()
	f.storeCalls++
	f.mu.Unlock()
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeCalls
}

func (f *fakeStore) GetActor(ctx context.Context, actorID string) (store.Actor, error) {
	f.called()
	if f.getActorFn != nil {
		return f.getActorFn(ctx, actorID)
	}
	return store.Actor{}, store.ErrNotFound
}

func (f *fakeStore) GetActorByEmail(ctx context.Context, email string) (store.Actor, error) {
	f.called()
	if f.getActorByEmailFn != nil {
		return f.getActorByEmailFn(ctx, email)
	}
	return store.Actor{}, store.ErrNotFound
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	f.called()
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{ID: documentID, OrganizationID: "org-1", Title: "Template"}, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, organizationID string) ([]store.Document, error) {
	f.called()
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx, organizationID)
	}
	return nil, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	f.called()
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, doc)
	}
	return nil
}

func (f *fakeStore) UpdateDocumentState(ctx context.Context, documentID, title, status, updatedBy string) error {
	f.called()
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, documentID, title, status, updatedBy)
	}
	return nil
}

func (f *fakeStore) ListCollaborators(ctx context.Context, documentID string) ([]store.Collaborator, error) {
	f.called()
	if f.listCollaboratorsFn != nil {
		return f.listCollaboratorsFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) UpsertCollaborator(ctx context.Context, c store.Collaborator) error {
	f.called()
	if f.upsertCollaboratorFn != nil {
		return f.upsertCollaboratorFn(ctx, c)
	}
	return nil
}

func (f *fakeStore) RemoveCollaborator(ctx context.Context, documentID, actorID string) error {
	f.called()
	if f.removeCollaboratorFn != nil {
		return f.removeCollaboratorFn(ctx, documentID, actorID)
	}
	return nil
}

func (f *fakeStore) ListComments(ctx context.Context, documentID string, componentPath *string) ([]store.Comment, error) {
	f.called()
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, documentID, componentPath)
	}
	return nil, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	f.called()
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}

func (f *fakeStore) ListVersions(ctx context.Context, documentID string, limit int) ([]store.VersionSnapshot, error) {
	f.called()
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, documentID, limit)
	}
	return nil, nil
}

func (f *fakeStore) InsertVersion(ctx context.Context, v store.VersionSnapshot) error {
	f.called()
	if f.insertVersionFn != nil {
		return f.insertVersionFn(ctx, v)
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type recordingFeed struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (f *recordingFeed) Publish(_ context.Context, event realtime.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *recordingFeed) Subscribe(ctx context.Context, documentID string) (realtime.Subscription, error) {
	return realtime.NewMemoryFeed().Subscribe(ctx, documentID)
}

func (f *recordingFeed) published() []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Event(nil), f.events...)
}

func newTestService(st *fakeStore, feed realtime.Feed) *Service {
	cfg := config.Config{
		JWTSecret:   "test-secret",
		AccessTTL:   time.Minute,
		PresenceTTL: 8 * time.Second,
	}
	sessions := collab.NewManager(st, feed, cfg.PresenceTTL, zerolog.Nop())
	return New(cfg, st, feed, sessions, zerolog.Nop())
}

func viewerActor() store.Actor {
	return store.Actor{ID: "act-v", DisplayName: "Vera", Role: "viewer", OrganizationID: "org-1", IsActive: true}
}

func userActor() store.Actor {
	return store.Actor{ID: "act-u", DisplayName: "Uma", Role: "user", OrganizationID: "org-1", IsActive: true}
}

func managerActor() store.Actor {
	return store.Actor{ID: "act-m", DisplayName: "Mark", Role: "manager", OrganizationID: "org-1", IsActive: true}
}

func assertDomainCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("got %v, want DomainError %s", err, code)
	}
	if domainErr.Code != code {
		t.Fatalf("got code %q, want %q", domainErr.Code, code)
	}
	return domainErr
}

func TestCreateTemplateDeniedForViewer(t *testing.T) {
	st := &fakeStore{}
	service := newTestService(st, &recordingFeed{})

	_, err := service.CreateTemplate(context.Background(), viewerActor(), "Gala outreach", nil)
	assertDomainCode(t, err, "AUTHORIZATION_DENIED")
	if st.calls() != 0 {
		t.Fatalf("denied action reached the store (%d calls)", st.calls())
	}
}

func TestPostCommentDeniedBeforeAnyStorageCall(t *testing.T) {
	st := &fakeStore{}
	service := newTestService(st, &recordingFeed{})

	_, err := service.PostComment(context.Background(), viewerActor(), "doc-1", "hello", nil)
	assertDomainCode(t, err, "AUTHORIZATION_DENIED")
	if st.calls() != 0 {
		t.Fatalf("denied action reached the store (%d calls)", st.calls())
	}
}

func TestPostCommentInsertsAndNotifies(t *testing.T) {
	var inserted store.Comment
	st := &fakeStore{
		insertCommentFn: func(_ context.Context, c store.Comment) error {
			inserted = c
			return nil
		},
	}
	feed := &recordingFeed{}
	service := newTestService(st, feed)

	comment, err := service.PostComment(context.Background(), userActor(), "doc-1", "  Needs a stronger close.  ", nil)
	if err != nil {
		t.Fatalf("PostComment: %v", err)
	}
	if !strings.HasPrefix(comment.ID, "cmt_") {
		t.Fatalf("comment id = %q", comment.ID)
	}
	if inserted.Body != "Needs a stronger close." {
		t.Fatalf("body not trimmed: %q", inserted.Body)
	}

	events := feed.published()
	if len(events) != 1 || events[0].Type != realtime.EventCommentAdded || events[0].DocumentID != "doc-1" {
		t.Fatalf("published events = %+v", events)
	}
}

func TestInviteCollaboratorCrossOrgRejected(t *testing.T) {
	upserts := 0
	st := &fakeStore{
		getActorFn: func(_ context.Context, actorID string) (store.Actor, error) {
			return store.Actor{ID: actorID, OrganizationID: "org-2", IsActive: true}, nil
		},
		upsertCollaboratorFn: func(context.Context, store.Collaborator) error {
			upserts++
			return nil
		},
	}
	feed := &recordingFeed{}
	service := newTestService(st, feed)

	err := service.InviteCollaborator(context.Background(), managerActor(), "doc-1", "act-z", "user")
	assertDomainCode(t, err, "ORG_MISMATCH")
	if upserts != 0 {
		t.Fatalf("cross-org invite reached the store")
	}
	if len(feed.published()) != 0 {
		t.Fatalf("cross-org invite published an event")
	}
}

func TestInviteCollaboratorNormalizesRoleAndNotifies(t *testing.T) {
	var granted store.Collaborator
	st := &fakeStore{
		getActorFn: func(_ context.Context, actorID string) (store.Actor, error) {
			return store.Actor{ID: actorID, OrganizationID: "org-1", IsActive: true}, nil
		},
		upsertCollaboratorFn: func(_ context.Context, c store.Collaborator) error {
			granted = c
			return nil
		},
	}
	feed := &recordingFeed{}
	service := newTestService(st, feed)

	if err := service.InviteCollaborator(context.Background(), managerActor(), "doc-1", "act-z", "warlord"); err != nil {
		t.Fatalf("InviteCollaborator: %v", err)
	}
	if granted.Role != "viewer" {
		t.Fatalf("role = %q, want viewer", granted.Role)
	}

	events := feed.published()
	if len(events) != 1 || events[0].Type != realtime.EventCollaboratorChange {
		t.Fatalf("published events = %+v", events)
	}
}

func TestInviteCollaboratorDeniedForUser(t *testing.T) {
	st := &fakeStore{}
	service := newTestService(st, &recordingFeed{})

	err := service.InviteCollaborator(context.Background(), userActor(), "doc-1", "act-z", "user")
	assertDomainCode(t, err, "AUTHORIZATION_DENIED")
}

func TestUpdateTemplateAppendsVersionAndNotifies(t *testing.T) {
	var version store.VersionSnapshot
	st := &fakeStore{
		insertVersionFn: func(_ context.Context, v store.VersionSnapshot) error {
			version = v
			return nil
		},
	}
	feed := &recordingFeed{}
	service := newTestService(st, feed)

	_, err := service.UpdateTemplate(context.Background(), userActor(), "doc-1", "New title", "", `{"sections":[]}`)
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if !strings.HasPrefix(version.ID, "ver_") || version.CreatedBy != "act-u" {
		t.Fatalf("version = %+v", version)
	}

	var types []realtime.EventType
	for _, event := range feed.published() {
		types = append(types, event.Type)
	}
	if len(types) != 2 || types[0] != realtime.EventVersionSaved || types[1] != realtime.EventDocumentUpdated {
		t.Fatalf("published event types = %v", types)
	}
}

func TestUpdateTemplateWithoutContentSkipsVersion(t *testing.T) {
	versions := 0
	st := &fakeStore{
		insertVersionFn: func(context.Context, store.VersionSnapshot) error {
			versions++
			return nil
		},
	}
	feed := &recordingFeed{}
	service := newTestService(st, feed)

	if _, err := service.UpdateTemplate(context.Background(), userActor(), "doc-1", "", "final", ""); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if versions != 0 {
		t.Fatalf("metadata-only edit appended a version")
	}
	events := feed.published()
	if len(events) != 1 || events[0].Type != realtime.EventDocumentUpdated {
		t.Fatalf("published events = %+v", events)
	}
}

func TestCrossOrgTemplateLooksMissing(t *testing.T) {
	st := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, OrganizationID: "org-9"}, nil
		},
	}
	service := newTestService(st, &recordingFeed{})

	_, err := service.GetTemplate(context.Background(), userActor(), "doc-1")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	st := &fakeStore{
		getActorByEmailFn: func(context.Context, string) (store.Actor, error) {
			return store.Actor{ID: "act-1", PasswordHash: hash, IsActive: true, OrganizationID: "org-1"}, nil
		},
	}
	service := newTestService(st, &recordingFeed{})

	_, err = service.Login(context.Background(), "uma@example.org", "wrong")
	assertDomainCode(t, err, "INVALID_CREDENTIALS")

	if _, err := service.Login(context.Background(), "uma@example.org", "correct-horse"); err != nil {
		t.Fatalf("valid login failed: %v", err)
	}
}

func TestActorFromTokenRejectsDeactivated(t *testing.T) {
	st := &fakeStore{
		getActorFn: func(_ context.Context, actorID string) (store.Actor, error) {
			return store.Actor{ID: actorID, OrganizationID: "org-1", IsActive: false}, nil
		},
	}
	service := newTestService(st, &recordingFeed{})

	token, err := auth.IssueToken([]byte("test-secret"), "act-1", "Uma", "user", "org-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	_, err = service.ActorFromToken(context.Background(), token)
	assertDomainCode(t, err, "UNAUTHORIZED")
}

func TestOpenSessionChecksDocumentAccess(t *testing.T) {
	st := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{}, store.ErrNotFound
		},
	}
	service := newTestService(st, &recordingFeed{})

	_, err := service.OpenSession(context.Background(), userActor(), "ghost")
	assertDomainCode(t, err, "NOT_FOUND")
}
