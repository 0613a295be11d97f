package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"donorbase/api/internal/collab"
	"donorbase/api/internal/presence"
	"donorbase/api/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":             doc.ID,
		"organizationId": doc.OrganizationID,
		"title":          doc.Title,
		"status":         doc.Status,
		"parentId":       doc.ParentID,
		"createdBy":      doc.CreatedBy,
		"updatedBy":      doc.UpdatedBy,
		"createdAt":      doc.CreatedAt.Format(time.RFC3339),
		"updatedAt":      doc.UpdatedAt.Format(time.RFC3339),
	}
}

func documentPayloads(docs []store.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i] = documentPayload(doc)
	}
	return out
}

func collaboratorPayload(c store.Collaborator) map[string]any {
	return map[string]any{
		"actorId":   c.ActorID,
		"name":      c.ActorName,
		"avatarRef": c.AvatarRef,
		"role":      c.Role,
		"invitedAt": c.InvitedAt.Format(time.RFC3339),
	}
}

func collaboratorPayloads(collaborators []store.Collaborator) []map[string]any {
	out := make([]map[string]any, len(collaborators))
	for i, c := range collaborators {
		out[i] = collaboratorPayload(c)
	}
	return out
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"authorId":      c.AuthorID,
		"authorName":    c.AuthorName,
		"body":          c.Body,
		"componentPath": c.ComponentPath,
		"createdAt":     c.CreatedAt.Format(time.RFC3339),
	}
}

func commentPayloads(comments []store.Comment) []map[string]any {
	out := make([]map[string]any, len(comments))
	for i, c := range comments {
		out[i] = commentPayload(c)
	}
	return out
}

func versionPayload(v store.VersionSnapshot) map[string]any {
	return map[string]any{
		"id":        v.ID,
		"content":   v.Content,
		"createdBy": v.CreatedBy,
		"createdAt": v.CreatedAt.Format(time.RFC3339),
	}
}

func versionPayloads(versions []store.VersionSnapshot) []map[string]any {
	out := make([]map[string]any, len(versions))
	for i, v := range versions {
		out[i] = versionPayload(v)
	}
	return out
}

func presencePayloads(entries []presence.Entry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"actorId":       e.ActorID,
			"name":          e.ActorName,
			"componentPath": e.ComponentPath,
			"lastSeenAt":    e.LastSeenAt.Format(time.RFC3339),
		}
	}
	return out
}

func viewPayload(view collab.View) map[string]any {
	payload := map[string]any{
		"state":          string(view.State),
		"document":       documentPayload(view.Document),
		"collaborators":  collaboratorPayloads(view.Collaborators),
		"comments":       commentPayloads(view.Comments),
		"recentVersions": versionPayloads(view.RecentVersions),
		"presence":       presencePayloads(view.Presence),
		"presenceStale":  view.PresenceStale,
	}
	if view.FetchErr != nil {
		payload["fetchError"] = view.FetchErr.Error()
	}
	return payload
}
