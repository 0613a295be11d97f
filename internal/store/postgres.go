package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetActor(ctx context.Context, actorID string) (Actor, error) {
	const query = `
		SELECT id, display_name, email, password_hash, COALESCE(avatar_ref, ''), role, organization_id, is_active, created_at
		FROM actors WHERE id = $1
	`
	var actor Actor
	err := s.db.QueryRowContext(ctx, query, actorID).Scan(
		&actor.ID, &actor.DisplayName, &actor.Email, &actor.PasswordHash,
		&actor.AvatarRef, &actor.Role, &actor.OrganizationID, &actor.IsActive, &actor.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, ErrNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("get actor: %w", err)
	}
	return actor, nil
}

func (s *PostgresStore) GetActorByEmail(ctx context.Context, email string) (Actor, error) {
	const query = `
		SELECT id, display_name, email, password_hash, COALESCE(avatar_ref, ''), role, organization_id, is_active, created_at
		FROM actors WHERE LOWER(email) = LOWER($1)
	`
	var actor Actor
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&actor.ID, &actor.DisplayName, &actor.Email, &actor.PasswordHash,
		&actor.AvatarRef, &actor.Role, &actor.OrganizationID, &actor.IsActive, &actor.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, ErrNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("get actor by email: %w", err)
	}
	return actor, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	const query = `
		SELECT id, organization_id, title, status, parent_id, created_by, updated_by, created_at, updated_at
		FROM documents WHERE id = $1
	`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&doc.ID, &doc.OrganizationID, &doc.Title, &doc.Status, &doc.ParentID,
		&doc.CreatedBy, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, organizationID string) ([]Document, error) {
	const query = `
		SELECT id, organization_id, title, status, parent_id, created_by, updated_by, created_at, updated_at
		FROM documents WHERE organization_id = $1
		ORDER BY updated_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(
			&doc.ID, &doc.OrganizationID, &doc.Title, &doc.Status, &doc.ParentID,
			&doc.CreatedBy, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	const query = `
		INSERT INTO documents (id, organization_id, title, status, parent_id, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, doc.ID, doc.OrganizationID, doc.Title, doc.Status, doc.ParentID, doc.CreatedBy); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, documentID, title, status, updatedBy string) error {
	const query = `
		UPDATE documents SET title = $2, status = $3, updated_by = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, documentID, title, status, updatedBy)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, documentID string) ([]Collaborator, error) {
	const query = `
		SELECT c.document_id, c.actor_id, c.role, c.invited_at, a.display_name, COALESCE(a.avatar_ref, '')
		FROM collaborators c
		JOIN actors a ON a.id = c.actor_id
		WHERE c.document_id = $1
		ORDER BY c.invited_at ASC, c.actor_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	var collaborators []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.DocumentID, &c.ActorID, &c.Role, &c.InvitedAt, &c.ActorName, &c.AvatarRef); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		collaborators = append(collaborators, c)
	}
	return collaborators, rows.Err()
}

// UpsertCollaborator inserts a grant or, on re-invite, refreshes the role and
// invited_at of the existing (document, actor) row.
func (s *PostgresStore) UpsertCollaborator(ctx context.Context, c Collaborator) error {
	const query = `
		INSERT INTO collaborators (document_id, actor_id, role, invited_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id, actor_id)
		DO UPDATE SET role = EXCLUDED.role, invited_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, c.DocumentID, c.ActorID, c.Role); err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, documentID, actorID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM collaborators WHERE document_id = $1 AND actor_id = $2`, documentID, actorID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListComments returns a document's comments newest-first. The ULID primary
// key is the secondary sort key, so comments sharing a created_at timestamp
// keep a stable order. A nil componentPath returns every comment; a non-nil
// one returns only comments scoped to that exact field.
func (s *PostgresStore) ListComments(ctx context.Context, documentID string, componentPath *string) ([]Comment, error) {
	query := `
		SELECT c.id, c.document_id, c.author_id, a.display_name, c.body, c.component_path, c.created_at
		FROM comments c
		JOIN actors a ON a.id = c.author_id
		WHERE c.document_id = $1
	`
	args := []any{documentID}
	if componentPath != nil {
		query += ` AND c.component_path = $2`
		args = append(args, *componentPath)
	}
	query += ` ORDER BY c.created_at DESC, c.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.AuthorID, &c.AuthorName, &c.Body, &c.ComponentPath, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	const query = `
		INSERT INTO comments (id, document_id, author_id, body, component_path)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, comment.ID, comment.DocumentID, comment.AuthorID, comment.Body, comment.ComponentPath); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// ListVersions returns a document's snapshots newest-first. limit <= 0 means
// the full history.
func (s *PostgresStore) ListVersions(ctx context.Context, documentID string, limit int) ([]VersionSnapshot, error) {
	query := `
		SELECT id, document_id, content, created_by, created_at
		FROM version_snapshots
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []VersionSnapshot
	for rows.Next() {
		var v VersionSnapshot
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.Content, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// InsertVersion appends a snapshot. The history is append-only; nothing in
// this store updates or deletes version rows.
func (s *PostgresStore) InsertVersion(ctx context.Context, v VersionSnapshot) error {
	const query = `
		INSERT INTO version_snapshots (id, document_id, content, created_by)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, v.ID, v.DocumentID, v.Content, v.CreatedBy); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}
