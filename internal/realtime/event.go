// Package realtime carries per-document change notifications between the
// storage collaborator and open collaboration sessions.
package realtime

import (
	"errors"
	"time"
)

type EventType string

const (
	// Presence events.
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stop_typing"
	EventLeft       EventType = "left"

	// Storage change events; sessions refetch the affected slice on receipt.
	EventCommentAdded       EventType = "comment_added"
	EventVersionSaved       EventType = "version_saved"
	EventCollaboratorChange EventType = "collaborator_changed"
	EventDocumentUpdated    EventType = "document_updated"
)

// Event is one notification on a document's feed. ComponentPath scopes a
// typing event to a single template field; empty means document-level.
type Event struct {
	Type          EventType `json:"type"`
	DocumentID    string    `json:"documentId"`
	ActorID       string    `json:"actorId,omitempty"`
	ActorName     string    `json:"actorName,omitempty"`
	ComponentPath string    `json:"componentPath,omitempty"`
	At            time.Time `json:"at"`
}

// IsPresence reports whether the event mutates presence state rather than
// signalling a storage change.
func (e Event) IsPresence() bool {
	switch e.Type {
	case EventTyping, EventStopTyping, EventLeft:
		return true
	}
	return false
}

var (
	errUnknownEventType = errors.New("unknown event type")
	errMissingDocument  = errors.New("event missing document id")
	errMissingActor     = errors.New("presence event missing actor id")
)

// Validate rejects events the trackers must not apply. Callers drop invalid
// events instead of propagating the error.
func (e Event) Validate() error {
	switch e.Type {
	case EventTyping, EventStopTyping, EventLeft,
		EventCommentAdded, EventVersionSaved, EventCollaboratorChange, EventDocumentUpdated:
	default:
		return errUnknownEventType
	}
	if e.DocumentID == "" {
		return errMissingDocument
	}
	if e.IsPresence() && e.ActorID == "" {
		return errMissingActor
	}
	return nil
}
