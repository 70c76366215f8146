package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/johnobriendev/notionesqueServer/internal/auth"
	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/ratelimit"
	"github.com/johnobriendev/notionesqueServer/internal/store"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			log.Printf("ready: database ping failed: %v", err)
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error"}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if class, limited := routeClass(r.Method, parts); limited {
		if !s.checkRateLimit(w, r, class, user.ID) {
			return
		}
	}

	switch parts[1] {
	case "users":
		s.handleUsers(w, r, user, parts)
	case "projects":
		s.handleProjects(w, r, user, parts)
	case "tasks":
		s.handleTaskComments(w, r, user, parts)
	case "invitations":
		s.handleInvitations(w, r, user, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// routeClass maps a request to its rate-limit class.
func routeClass(method string, parts []string) (ratelimit.Class, bool) {
	switch parts[1] {
	case "invitations":
		return ratelimit.ClassInvite, true
	case "tasks":
		return ratelimit.ClassComment, true
	case "projects":
		if len(parts) < 4 {
			return ratelimit.ClassProject, true
		}
		switch parts[3] {
		case "invite":
			return ratelimit.ClassInvite, true
		case "tasks":
			if len(parts) == 4 && method == http.MethodDelete {
				return ratelimit.ClassBulk, true
			}
			if len(parts) == 5 && (parts[4] == "bulk" || parts[4] == "reorder") {
				return ratelimit.ClassBulk, true
			}
			return ratelimit.ClassTask, true
		default:
			return ratelimit.ClassProject, true
		}
	}
	return "", false
}

func (s *HTTPServer) checkRateLimit(w http.ResponseWriter, r *http.Request, class ratelimit.Class, identity string) bool {
	decision, err := s.service.CheckRateLimit(r.Context(), class, identity)
	if decision.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return store.User{}, false
	}
	user, err := s.service.Authenticate(r.Context(), token, r.Header.Get("X-User-Email"))
	if err != nil {
		s.fail(w, r, err)
		return store.User{}, false
	}
	return user, true
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, user store.User, parts []string) {
	if len(parts) == 3 && parts[2] == "me" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, user)
		case http.MethodPatch:
			var update ProfileUpdate
			if !s.decode(w, r, &update) {
				return
			}
			updated, err := s.service.UpdateProfile(r.Context(), user, update)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 3 && parts[2] == "invitations" && r.Method == http.MethodGet {
		items, err := s.service.ListMyInvitations(r.Context(), user)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, user store.User, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListAccessibleProjects(r.Context(), user)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			var body CreateProjectInput
			if !s.decode(w, r, &body) {
				return
			}
			project, err := s.service.CreateProject(r.Context(), user, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, project)
		default:
			methodNotAllowed(w)
		}
		return
	}

	projectID := parts[2]
	if len(parts) == 3 {
		s.handleProject(w, r, user, projectID)
		return
	}

	switch parts[3] {
	case "tasks":
		s.handleTasks(w, r, user, projectID, parts[4:])
	case "invite":
		if len(parts) != 4 || r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body InviteInput
		if !s.decode(w, r, &body) {
			return
		}
		inv, err := s.service.InviteUser(r.Context(), user, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, inv)
	case "invitations":
		if len(parts) != 4 || r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.ListProjectInvitations(r.Context(), user, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "collaborators":
		s.handleCollaborators(w, r, user, projectID, parts[4:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, user store.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.service.GetProject(r.Context(), user, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPatch, http.MethodPut:
		var patch store.ProjectPatch
		if !s.decode(w, r, &patch) {
			return
		}
		project, err := s.service.UpdateProject(r.Context(), user, projectID, patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), user, projectID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// handleTasks serves /api/projects/{id}/tasks; rest is the path after "tasks".
func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, user store.User, projectID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.ListTasks(r.Context(), user, projectID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, tasks)
		case http.MethodPost:
			var body CreateTaskInput
			if !s.decode(w, r, &body) {
				return
			}
			task, err := s.service.CreateTask(r.Context(), user, projectID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, task)
		case http.MethodDelete:
			var body struct {
				TaskIDs []string `json:"taskIds"`
			}
			if !s.decode(w, r, &body) {
				return
			}
			deleted, err := s.service.DeleteTasks(r.Context(), user, projectID, body.TaskIDs)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"count": deleted})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "bulk" {
		if r.Method != http.MethodPut && r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var body struct {
			TaskIDs []string             `json:"taskIds"`
			Updates store.BulkTaskUpdate `json:"updates"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		tasks, err := s.service.BulkUpdateTasks(r.Context(), user, projectID, body.TaskIDs, body.Updates)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(tasks), "tasks": tasks})
		return
	}

	if len(rest) == 1 && rest[0] == "reorder" {
		if r.Method != http.MethodPut && r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Tasks []store.TaskPosition `json:"tasks"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		if err := s.service.ReorderTasks(r.Context(), user, projectID, body.Tasks); err != nil {
			s.fail(w, r, err)
			return
		}
		tasks, err := s.service.ListTasks(r.Context(), user, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
		return
	}

	taskID := rest[0]
	if len(rest) == 2 && rest[1] == "priority" {
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Priority        string `json:"priority"`
			ExpectedVersion *int   `json:"expectedVersion"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		task, err := s.service.UpdateTaskPriority(r.Context(), user, projectID, taskID, body.Priority, body.ExpectedVersion)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.service.GetTask(r.Context(), user, projectID, taskID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPatch, http.MethodPut:
		var body struct {
			store.TaskPatch
			ExpectedVersion *int `json:"expectedVersion"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		task, err := s.service.UpdateTask(r.Context(), user, projectID, taskID, body.ExpectedVersion, body.TaskPatch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := s.service.DeleteTask(r.Context(), user, projectID, taskID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// handleTaskComments serves /api/tasks/{taskId}/comments[/{commentId}].
func (s *HTTPServer) handleTaskComments(w http.ResponseWriter, r *http.Request, user store.User, parts []string) {
	if len(parts) < 4 || parts[3] != "comments" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	taskID := parts[2]

	var body struct {
		Content string `json:"content"`
	}
	switch {
	case len(parts) == 4 && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), user, taskID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comments)
	case len(parts) == 4 && r.Method == http.MethodPost:
		if !s.decode(w, r, &body) {
			return
		}
		comment, err := s.service.CreateComment(r.Context(), user, taskID, body.Content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	case len(parts) == 5 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		if !s.decode(w, r, &body) {
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), user, taskID, parts[4], body.Content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)
	case len(parts) == 5 && r.Method == http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), user, taskID, parts[4]); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) <= 5:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleInvitations(w http.ResponseWriter, r *http.Request, user store.User, parts []string) {
	switch {
	case len(parts) == 4 && parts[3] == "accept" && r.Method == http.MethodPost:
		project, err := s.service.AcceptInvitation(r.Context(), user, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": project})
	case len(parts) == 4 && parts[3] == "decline" && r.Method == http.MethodPost,
		len(parts) == 3 && r.Method == http.MethodDelete:
		if err := s.service.DeclineInvitation(r.Context(), user, parts[2]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleCollaborators serves /api/projects/{id}/collaborators; rest follows
// "collaborators".
func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, user store.User, projectID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		team, err := s.service.ListTeam(r.Context(), user, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.RemoveMember(r.Context(), user, projectID, rest[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(rest) == 2 && rest[1] == "role" && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		var body struct {
			Role string `json:"role"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		if err := s.service.UpdateMemberRole(r.Context(), user, projectID, rest[0], body.Role); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"userId": rest[0], "role": body.Role})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// fail writes err as a JSON error response. Unexpected errors are logged with
// the request id and answered generically.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	var limited *RateLimitError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
	}
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		log.Printf("request %s: %s %s failed: %v", requestID, r.Method, r.URL.Path, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-Email")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "VERSION_CONFLICT", "Task was modified by another user", conflict
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests",
			map[string]any{"retryAfter": limited.RetryAfter, "class": limited.Class}
	}
	var denied *AccessError
	if errors.As(err, &denied) {
		if denied.Role == rbac.RoleNone {
			return http.StatusNotFound, "NOT_FOUND", "Not found", nil
		}
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
