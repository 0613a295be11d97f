package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"donorbase/api/internal/obs"
	"donorbase/api/internal/rbac"
	"donorbase/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        log.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		obs.Handler().ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"feed":     map[string]any{"status": "ok"},
		}
		status := http.StatusOK
		if err := s.service.Ping(ctx); err != nil {
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
			status = http.StatusServiceUnavailable
		}
		if err := s.service.PingFeed(ctx); err != nil {
			checks["feed"] = map[string]any{"status": "error", "error": err.Error()}
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "checks": checks})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	// Everything below requires an authenticated actor.
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
		return
	}
	actor, err := s.service.ActorFromToken(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":  true,
			"actorId":        actor.ID,
			"displayName":    actor.DisplayName,
			"role":           actor.Role,
			"organizationId": actor.OrganizationID,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/permissions" {
		writeJSON(w, http.StatusOK, map[string]any{
			"role":        actor.Role,
			"permissions": s.service.Permissions(rbac.Role(actor.Role)),
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "templates" {
		s.handleTemplates(w, r, actor, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "No such route", nil)
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, actor store.Actor, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		docs, err := s.service.ListTemplates(r.Context(), actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": documentPayloads(docs)})

	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Title    string  `json:"title"`
			ParentID *string `json:"parentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateTemplate(r.Context(), actor, body.Title, body.ParentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, documentPayload(doc))

	case len(rest) == 1 && r.Method == http.MethodGet:
		doc, err := s.service.GetTemplate(r.Context(), actor, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, documentPayload(doc))

	case len(rest) == 1 && r.Method == http.MethodPatch:
		var body struct {
			Title   string `json:"title"`
			Status  string `json:"status"`
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.UpdateTemplate(r.Context(), actor, rest[0], body.Title, body.Status, body.Content)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, documentPayload(doc))

	case len(rest) == 2 && rest[1] == "collaborators" && r.Method == http.MethodGet:
		collaborators, err := s.service.Collaborators(r.Context(), actor, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collaborators": collaboratorPayloads(collaborators)})

	case len(rest) == 2 && rest[1] == "collaborators" && r.Method == http.MethodPost:
		var body struct {
			ActorID string `json:"actorId"`
			Role    string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.InviteCollaborator(r.Context(), actor, rest[0], body.ActorID, body.Role); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 3 && rest[1] == "collaborators" && r.Method == http.MethodDelete:
		if err := s.service.RevokeCollaborator(r.Context(), actor, rest[0], rest[2]); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodGet:
		var componentPath *string
		if value := r.URL.Query().Get("componentPath"); value != "" {
			componentPath = &value
		}
		comments, err := s.service.Comments(r.Context(), actor, rest[0], componentPath)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": commentPayloads(comments)})

	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodPost:
		var body struct {
			Body          string  `json:"body"`
			ComponentPath *string `json:"componentPath"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.PostComment(r.Context(), actor, rest[0], body.Body, body.ComponentPath)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, commentPayload(comment))

	case len(rest) == 2 && rest[1] == "versions" && r.Method == http.MethodGet:
		limit := 0
		if value := r.URL.Query().Get("limit"); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", nil)
				return
			}
			limit = parsed
		}
		versions, err := s.service.Versions(r.Context(), actor, rest[0], limit)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versionPayloads(versions)})

	case len(rest) == 2 && rest[1] == "session" && r.Method == http.MethodGet:
		s.handleSessionSocket(w, r, actor, rest[0])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No such route", nil)
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":          result.Token,
		"actorId":        result.Actor.ID,
		"displayName":    result.Actor.DisplayName,
		"role":           result.Actor.Role,
		"organizationId": result.Actor.OrganizationID,
	})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	s.log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	instrumented := obs.Instrument(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		instrumented.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
}
