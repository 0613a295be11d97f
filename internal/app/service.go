package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"donorbase/api/internal/auth"
	"donorbase/api/internal/collab"
	"donorbase/api/internal/config"
	"donorbase/api/internal/rbac"
	"donorbase/api/internal/realtime"
	"donorbase/api/internal/store"
	"donorbase/api/internal/util"
)

type dataStore interface {
	GetActor(ctx context.Context, actorID string) (store.Actor, error)
	GetActorByEmail(ctx context.Context, email string) (store.Actor, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, organizationID string) ([]store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	UpdateDocumentState(ctx context.Context, documentID, title, status, updatedBy string) error
	ListCollaborators(ctx context.Context, documentID string) ([]store.Collaborator, error)
	UpsertCollaborator(ctx context.Context, c store.Collaborator) error
	RemoveCollaborator(ctx context.Context, documentID, actorID string) error
	ListComments(ctx context.Context, documentID string, componentPath *string) ([]store.Comment, error)
	InsertComment(ctx context.Context, comment store.Comment) error
	ListVersions(ctx context.Context, documentID string, limit int) ([]store.VersionSnapshot, error)
	InsertVersion(ctx context.Context, v store.VersionSnapshot) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	feed     realtime.Feed
	sessions *collab.Manager
	log      zerolog.Logger
}

func New(cfg config.Config, dataStore dataStore, feed realtime.Feed, sessions *collab.Manager, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		feed:     feed,
		sessions: sessions,
		log:      log.With().Str("component", "app").Logger(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingFeed checks the realtime feed backend when it has one to check. The
// in-memory feed has no external dependency and always reports healthy.
func (s *Service) PingFeed(ctx context.Context) error {
	if pinger, ok := s.feed.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// CanPerform is the permission decision exposed to consumers. Pure lookup,
// never errors.
func (s *Service) CanPerform(action rbac.Action, role rbac.Role) bool {
	return rbac.Can(role, action)
}

// Permissions returns the full capability map for one role.
func (s *Service) Permissions(role rbac.Role) map[string]bool {
	out := make(map[string]bool)
	for _, action := range rbac.Actions() {
		out[string(action)] = rbac.Can(role, action)
	}
	return out
}

type LoginResult struct {
	Token string
	Actor store.Actor
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	actor, err := s.store.GetActorByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("login lookup: %w", err)
	}
	if !actor.IsActive || !auth.CheckPassword(actor.PasswordHash, password) {
		return LoginResult{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), actor.ID, actor.DisplayName, actor.Role, actor.OrganizationID, s.cfg.AccessTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, Actor: actor}, nil
}

// ActorFromToken resolves a bearer token to a fresh actor snapshot, so role
// changes and deactivation take effect on the next request.
func (s *Service) ActorFromToken(ctx context.Context, token string) (store.Actor, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return store.Actor{}, domainError(401, "UNAUTHORIZED", "Invalid or expired token", nil)
	}
	actor, err := s.store.GetActor(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return store.Actor{}, domainError(401, "UNAUTHORIZED", "Invalid or expired token", nil)
	}
	if err != nil {
		return store.Actor{}, fmt.Errorf("resolve actor: %w", err)
	}
	if !actor.IsActive {
		return store.Actor{}, domainError(401, "UNAUTHORIZED", "Account deactivated", nil)
	}
	return actor, nil
}

// documentForActor fetches a document and enforces organization scoping.
// Cross-organization IDs are indistinguishable from missing ones.
func (s *Service) documentForActor(ctx context.Context, actor store.Actor, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, domainError(404, "NOT_FOUND", "Template not found", nil)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get template: %w", err)
	}
	if doc.OrganizationID != actor.OrganizationID {
		return store.Document{}, domainError(404, "NOT_FOUND", "Template not found", nil)
	}
	return doc, nil
}

func (s *Service) ListTemplates(ctx context.Context, actor store.Actor) ([]store.Document, error) {
	return s.store.ListDocuments(ctx, actor.OrganizationID)
}

func (s *Service) GetTemplate(ctx context.Context, actor store.Actor, documentID string) (store.Document, error) {
	return s.documentForActor(ctx, actor, documentID)
}

func (s *Service) CreateTemplate(ctx context.Context, actor store.Actor, title string, parentID *string) (store.Document, error) {
	if !rbac.Can(rbac.Role(actor.Role), rbac.ActionCreateTemplate) {
		return store.Document{}, authorizationDenied(string(rbac.ActionCreateTemplate))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, domainError(422, "VALIDATION_ERROR", "Title is required", nil)
	}
	if parentID != nil {
		if _, err := s.documentForActor(ctx, actor, *parentID); err != nil {
			return store.Document{}, err
		}
	}

	doc := store.Document{
		ID:             util.NewID("doc"),
		OrganizationID: actor.OrganizationID,
		Title:          title,
		Status:         "draft",
		ParentID:       parentID,
		CreatedBy:      actor.ID,
		UpdatedBy:      actor.ID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, fmt.Errorf("create template: %w", err)
	}
	// The creator is a collaborator from the start.
	if err := s.store.UpsertCollaborator(ctx, store.Collaborator{
		DocumentID: doc.ID,
		ActorID:    actor.ID,
		Role:       actor.Role,
	}); err != nil {
		return store.Document{}, fmt.Errorf("add creator collaborator: %w", err)
	}
	return doc, nil
}

// UpdateTemplate applies an edit and, when content is provided, appends a
// version snapshot. Open sessions learn about both through the feed.
func (s *Service) UpdateTemplate(ctx context.Context, actor store.Actor, documentID, title, status, content string) (store.Document, error) {
	if !rbac.Can(rbac.Role(actor.Role), rbac.ActionEditTemplate) {
		return store.Document{}, authorizationDenied(string(rbac.ActionEditTemplate))
	}
	doc, err := s.documentForActor(ctx, actor, documentID)
	if err != nil {
		return store.Document{}, err
	}

	if title = strings.TrimSpace(title); title == "" {
		title = doc.Title
	}
	if status = strings.TrimSpace(status); status == "" {
		status = doc.Status
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, title, status, actor.ID); err != nil {
		return store.Document{}, fmt.Errorf("update template: %w", err)
	}
	doc.Title = title
	doc.Status = status
	doc.UpdatedBy = actor.ID

	if content != "" {
		version := store.VersionSnapshot{
			ID:         util.NewID("ver"),
			DocumentID: documentID,
			Content:    content,
			CreatedBy:  actor.ID,
		}
		if err := s.store.InsertVersion(ctx, version); err != nil {
			return store.Document{}, fmt.Errorf("append version: %w", err)
		}
		s.notify(ctx, realtime.Event{Type: realtime.EventVersionSaved, DocumentID: documentID, ActorID: actor.ID})
	}

	s.notify(ctx, realtime.Event{Type: realtime.EventDocumentUpdated, DocumentID: documentID, ActorID: actor.ID})
	return doc, nil
}

func (s *Service) Collaborators(ctx context.Context, actor store.Actor, documentID string) ([]store.Collaborator, error) {
	if _, err := s.documentForActor(ctx, actor, documentID); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, documentID)
}

// InviteCollaborator grants inviteeID a role on a document. Both the inviter
// and the invitee must belong to the document's organization.
func (s *Service) InviteCollaborator(ctx context.Context, actor store.Actor, documentID, inviteeID, role string) error {
	if !rbac.Can(rbac.Role(actor.Role), rbac.ActionManageCollaborators) {
		return authorizationDenied(string(rbac.ActionManageCollaborators))
	}
	doc, err := s.documentForActor(ctx, actor, documentID)
	if err != nil {
		return err
	}
	invitee, err := s.store.GetActor(ctx, inviteeID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(404, "NOT_FOUND", "Actor not found", nil)
	}
	if err != nil {
		return fmt.Errorf("get invitee: %w", err)
	}
	if invitee.OrganizationID != doc.OrganizationID {
		return domainError(422, "ORG_MISMATCH", "Collaborators must belong to the template's organization", nil)
	}

	err = s.store.UpsertCollaborator(ctx, store.Collaborator{
		DocumentID: documentID,
		ActorID:    inviteeID,
		Role:       string(rbac.Normalize(role)),
	})
	if err != nil {
		return fmt.Errorf("invite collaborator: %w", err)
	}
	s.notify(ctx, realtime.Event{Type: realtime.EventCollaboratorChange, DocumentID: documentID, ActorID: actor.ID})
	return nil
}

func (s *Service) RevokeCollaborator(ctx context.Context, actor store.Actor, documentID, collaboratorID string) error {
	if !rbac.Can(rbac.Role(actor.Role), rbac.ActionManageCollaborators) {
		return authorizationDenied(string(rbac.ActionManageCollaborators))
	}
	if _, err := s.documentForActor(ctx, actor, documentID); err != nil {
		return err
	}
	err := s.store.RemoveCollaborator(ctx, documentID, collaboratorID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(404, "NOT_FOUND", "Collaborator not found", nil)
	}
	if err != nil {
		return fmt.Errorf("revoke collaborator: %w", err)
	}
	s.notify(ctx, realtime.Event{Type: realtime.EventCollaboratorChange, DocumentID: documentID, ActorID: actor.ID})
	return nil
}

func (s *Service) Comments(ctx context.Context, actor store.Actor, documentID string, componentPath *string) ([]store.Comment, error) {
	if _, err := s.documentForActor(ctx, actor, documentID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, documentID, componentPath)
}

func (s *Service) PostComment(ctx context.Context, actor store.Actor, documentID, body string, componentPath *string) (store.Comment, error) {
	if !rbac.Can(rbac.Role(actor.Role), rbac.ActionCommentTemplate) {
		return store.Comment{}, authorizationDenied(string(rbac.ActionCommentTemplate))
	}
	if _, err := s.documentForActor(ctx, actor, documentID); err != nil {
		return store.Comment{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Comment{}, domainError(422, "VALIDATION_ERROR", "Comment body is required", nil)
	}

	comment := store.Comment{
		ID:            util.NewID("cmt"),
		DocumentID:    documentID,
		AuthorID:      actor.ID,
		AuthorName:    actor.DisplayName,
		Body:          body,
		ComponentPath: componentPath,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, fmt.Errorf("post comment: %w", err)
	}
	s.notify(ctx, realtime.Event{Type: realtime.EventCommentAdded, DocumentID: documentID, ActorID: actor.ID})
	return comment, nil
}

func (s *Service) Versions(ctx context.Context, actor store.Actor, documentID string, limit int) ([]store.VersionSnapshot, error) {
	if _, err := s.documentForActor(ctx, actor, documentID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, documentID, limit)
}

// OpenSession starts a live collaboration session after verifying the actor
// may see the document at all.
func (s *Service) OpenSession(ctx context.Context, actor store.Actor, documentID string) (*collab.Session, error) {
	if _, err := s.documentForActor(ctx, actor, documentID); err != nil {
		return nil, err
	}
	return s.sessions.Open(ctx, documentID, actor), nil
}

// PublishTyping reports the actor's typing state on a document they already
// hold an open session for; access was checked at session open.
func (s *Service) PublishTyping(ctx context.Context, actor store.Actor, documentID, componentPath string, stopped bool) {
	eventType := realtime.EventTyping
	if stopped {
		eventType = realtime.EventStopTyping
	}
	s.notify(ctx, realtime.Event{
		Type:          eventType,
		DocumentID:    documentID,
		ActorID:       actor.ID,
		ActorName:     actor.DisplayName,
		ComponentPath: componentPath,
	})
}

// PublishLeft removes the actor's presence when their session ends.
func (s *Service) PublishLeft(ctx context.Context, actor store.Actor, documentID string) {
	s.notify(ctx, realtime.Event{Type: realtime.EventLeft, DocumentID: documentID, ActorID: actor.ID})
}

func (s *Service) notify(ctx context.Context, event realtime.Event) {
	if err := s.feed.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("type", string(event.Type)).Str("document", event.DocumentID).Msg("feed publish failed")
	}
}
