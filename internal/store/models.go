package store

import "time"

// Actor is a read-only snapshot of an authenticated organization member.
// Identity is owned by the auth collaborator; the core never mutates actors.
type Actor struct {
	ID             string
	DisplayName    string
	Email          string
	PasswordHash   string
	AvatarRef      string
	Role           string
	OrganizationID string
	IsActive       bool
	CreatedAt      time.Time
}

// Document is a context template. ParentID forms an optional tree; the
// collaboration core reads documents but never writes them directly.
type Document struct {
	ID             string
	OrganizationID string
	Title          string
	Status         string
	ParentID       *string
	CreatedBy      string
	UpdatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Collaborator grants one actor a role on one document. Unique per
// (DocumentID, ActorID); re-inviting refreshes InvitedAt rather than
// inserting a second row.
type Collaborator struct {
	DocumentID string
	ActorID    string
	Role       string
	InvitedAt  time.Time
	// Joined actor fields for display.
	ActorName string
	AvatarRef string
}

// Comment belongs to one document. ComponentPath, when set, scopes the
// comment to a single field of the template. Comments are immutable here;
// edits and deletes are the storage collaborator's concern.
type Comment struct {
	ID            string
	DocumentID    string
	AuthorID      string
	AuthorName    string
	Body          string
	ComponentPath *string
	CreatedAt     time.Time
}

// VersionSnapshot is one entry in a document's append-only history.
type VersionSnapshot struct {
	ID         string
	DocumentID string
	Content    string
	CreatedBy  string
	CreatedAt  time.Time
}
