package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"planner/api/internal/auth"
	"planner/api/internal/portal"
	"planner/api/internal/rbac"
	"planner/api/internal/store"
	"planner/api/internal/workflow"
)

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
		writeJSON(w, http.StatusNoContent, map[string]any{})
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
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Email, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userId":    session.UserID,
			"userName":  session.UserName,
			"email":     session.Email,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"email":         session.Email,
			"role":          session.Role,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Portal routes authenticate with the share token, not a session.
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "portal" {
		s.handlePortal(w, r, parts[2], parts[3:])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		clientID := strings.TrimSpace(r.URL.Query().Get("clientId"))
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), q, filterType, clientID, limit, offset, false)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/users" {
		if !s.service.Can(session.Role, rbac.ActionManageAccess) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"fullName"`
			Role     string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.CreateUser(r.Context(), body.Email, body.Password, body.FullName, body.Role)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"userId":   user.ID,
			"email":    user.Email,
			"fullName": user.FullName,
			"role":     user.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/clients" {
		if !s.service.Can(session.Role, rbac.ActionManageAccess) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Name              string `json:"name"`
			InternalApprovers string `json:"internalApprovers"`
			ClientApprovers   string `json:"clientApprovers"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		client, err := s.service.CreateClient(r.Context(), CreateClientInput{
			Name:              body.Name,
			InternalApprovers: body.InternalApprovers,
			ClientApprovers:   body.ClientApprovers,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, clientView(client))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/posts" {
		if !s.service.Can(session.Role, rbac.ActionCreate) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			ClientID          string     `json:"clientId"`
			Title             string     `json:"title"`
			Copy              string     `json:"copy"`
			Hashtags          string     `json:"hashtags"`
			Notes             string     `json:"notes"`
			ScheduledDate     *time.Time `json:"scheduledDate"`
			InternalApprovers string     `json:"internalApprovers"`
			ClientApprovers   string     `json:"clientApprovers"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		post, err := s.service.CreatePost(r.Context(), CreatePostInput{
			ClientID:          body.ClientID,
			Title:             body.Title,
			Copy:              body.Copy,
			Hashtags:          body.Hashtags,
			Notes:             body.Notes,
			ScheduledDate:     body.ScheduledDate,
			InternalApprovers: body.InternalApprovers,
			ClientApprovers:   body.ClientApprovers,
			Actor:             session.Email,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, postView(post))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/approvals/pending" {
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		if email == "" {
			email = session.Email
		}
		records, err := s.service.PendingApprovals(r.Context(), email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load pending approvals", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"approvals": approvalViews(records)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		items, err := s.service.UnreadNotifications(r.Context(), session.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load notifications", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notificationViews(items)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications/count" {
		count, err := s.service.UnreadNotificationCount(r.Context(), session.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not count notifications", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": count})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/read-all" {
		if err := s.service.MarkAllNotificationsRead(r.Context(), session.Email); err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not mark notifications read", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "notifications" && parts[3] == "read" && r.Method == http.MethodPost {
		if err := s.service.MarkNotificationRead(r.Context(), parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "clients" {
		s.handleClients(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "posts" {
		s.handlePosts(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "approvals" {
		s.handleApprovals(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "portal-access" {
		s.handlePortalAccess(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request, session Session, clientID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		client, err := s.service.GetClient(r.Context(), clientID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, clientView(client))

	case len(rest) == 1 && rest[0] == "posts" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		posts, err := s.service.ListPostsByClient(r.Context(), clientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list posts", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": postViews(posts)})

	case len(rest) == 1 && rest[0] == "portal-access" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionManageAccess) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Email       string     `json:"email"`
			AccessType  string     `json:"accessType"`
			AccessLevel string     `json:"accessLevel"`
			PostIDs     []string   `json:"postIds"`
			ExpiresAt   *time.Time `json:"expiresAt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.GrantPortalAccess(r.Context(), portal.GrantInput{
			ClientID:    clientID,
			Email:       body.Email,
			AccessType:  body.AccessType,
			AccessLevel: body.AccessLevel,
			PostIDs:     body.PostIDs,
			ExpiresAt:   body.ExpiresAt,
			GrantedBy:   session.Email,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"grant":     grantView(result.Grant),
			"token":     result.Token,
			"portalUrl": result.PortalURL,
		})

	case len(rest) == 1 && rest[0] == "portal-access" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionManageAccess) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		grants, err := s.service.ListPortalGrants(r.Context(), clientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list portal access", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": grantViews(grants)})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, session Session, postID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		post, err := s.service.GetPost(r.Context(), postID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, postView(post))

	case len(rest) == 0 && r.Method == http.MethodPut:
		if !s.service.Can(session.Role, rbac.ActionCreate) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Title    string `json:"title"`
			Copy     string `json:"copy"`
			Hashtags string `json:"hashtags"`
			Notes    string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		post, err := s.service.UpdatePost(r.Context(), UpdatePostInput{
			PostID:   postID,
			Title:    body.Title,
			Copy:     body.Copy,
			Hashtags: body.Hashtags,
			Notes:    body.Notes,
			Actor:    session.Email,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, postView(post))

	case len(rest) == 1 && rest[0] == "submit-internal" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionSubmitReview) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.service.SubmitForInternalReview(r.Context(), postID, session.Email)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"status":        result.Status,
			"approverCount": result.ApproverCount,
		})

	case len(rest) == 1 && rest[0] == "submit-client" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionSubmitReview) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			SkipInternalCheck bool `json:"skipInternalCheck"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SubmitForClientReview(r.Context(), postID, body.SkipInternalCheck, session.Email)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"status":        result.Status,
			"approverCount": result.ApproverCount,
		})

	case len(rest) == 1 && rest[0] == "publish" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionSubmitReview) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		post, err := s.service.MarkPostPublished(r.Context(), postID, session.Email)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, postView(post))

	case len(rest) == 1 && rest[0] == "approvals" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		records, err := s.service.ApprovalHistory(r.Context(), postID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"approvals": approvalViews(records)})

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		versions, err := s.service.PostVersions(r.Context(), postID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versionViews(versions)})

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionCreate) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.CaptureVersion(r.Context(), postID, session.Email); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})

	case len(rest) == 2 && rest[0] == "versions" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		content, err := s.service.VersionContent(r.Context(), postID, rest[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, content)

	case len(rest) == 1 && rest[0] == "snapshots" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		commits, err := s.service.SnapshotHistory(r.Context(), postID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})

	case len(rest) == 2 && rest[0] == "notifications" && rest[1] == "read" && r.Method == http.MethodPost:
		if err := s.service.MarkNotificationsReadForPost(r.Context(), session.Email, postID); err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not mark notifications read", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleApprovals(w http.ResponseWriter, r *http.Request, session Session, approvalID string, rest []string) {
	if len(rest) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionApprove) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	var body struct {
		Decision string `json:"decision"`
		Notes    string `json:"notes"`
		Comments string `json:"comments"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	notes := body.Notes
	if notes == "" {
		notes = body.Comments
	}

	var result workflow.DecisionResult
	var err error
	switch rest[0] {
	case "decision":
		result, err = s.service.RecordDecision(r.Context(), approvalID, body.Decision, notes, session.Email)
	case "submit":
		result, err = s.service.SubmitDecision(r.Context(), approvalID, body.Decision, notes, session.Email)
	case "amend":
		result, err = s.service.AmendDecision(r.Context(), approvalID, body.Decision, notes, session.Email)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"status":     result.Status,
		"nextAction": result.NextAction,
	})
}

func (s *HTTPServer) handlePortalAccess(w http.ResponseWriter, r *http.Request, session Session, grantID string, rest []string) {
	if !s.service.Can(session.Role, rbac.ActionManageAccess) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodPut:
		var body struct {
			AccessType  string   `json:"accessType"`
			AccessLevel string   `json:"accessLevel"`
			PostIDs     []string `json:"postIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdatePortalAccess(r.Context(), grantID, body.AccessType, body.AccessLevel, body.PostIDs); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "revoke" && r.Method == http.MethodPost:
		if err := s.service.RevokePortalAccess(r.Context(), grantID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "posts" && r.Method == http.MethodPost:
		var body struct {
			PostID string `json:"postId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.PostID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "postId is required", nil)
			return
		}
		if err := s.service.AddPostToPortalAccess(r.Context(), grantID, body.PostID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePortal(w http.ResponseWriter, r *http.Request, token string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		view, err := s.service.PortalSession(r.Context(), token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client": clientView(view.Client),
			"access": map[string]any{
				"email":       view.Grant.Email,
				"accessType":  view.Grant.AccessType,
				"accessLevel": view.Grant.AccessLevel,
			},
			"posts": postViews(view.Posts),
		})

	case len(rest) == 1 && rest[0] == "posts" && r.Method == http.MethodGet:
		view, err := s.service.PortalSession(r.Context(), token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": postViews(view.Posts)})

	case len(rest) == 3 && rest[0] == "approvals" && rest[2] == "decision" && r.Method == http.MethodPost:
		var body struct {
			Decision string `json:"decision"`
			Comments string `json:"comments"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.PortalDecision(r.Context(), token, rest[1], body.Decision, body.Comments)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"status":     result.Status,
			"nextAction": result.NextAction,
		})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
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

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, workflow.ErrNoApprovers):
		return http.StatusUnprocessableEntity, "NO_APPROVERS", "No approvers configured for this stage", nil
	case errors.Is(err, workflow.ErrIncompleteInternalApproval):
		return http.StatusConflict, "INTERNAL_REVIEW_INCOMPLETE", "Internal approvals are incomplete", nil
	case errors.Is(err, workflow.ErrAlreadyDecided):
		return http.StatusConflict, "ALREADY_DECIDED", "Approval already decided; use amend", nil
	case errors.Is(err, workflow.ErrInvalidDecision), errors.Is(err, workflow.ErrInvalidStage):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, portal.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", "Portal link is invalid or expired", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// JSON views

func clientView(c store.Client) map[string]any {
	return map[string]any{
		"id":                c.ID,
		"name":              c.Name,
		"internalApprovers": c.InternalApproverEmails,
		"clientApprovers":   c.ClientApproverEmails,
	}
}

func postView(p store.Post) map[string]any {
	view := map[string]any{
		"id":         p.ID,
		"clientId":   p.ClientID,
		"title":      p.Title,
		"copy":       p.Copy,
		"hashtags":   p.Hashtags,
		"notes":      p.Notes,
		"status":     p.Status,
		"createdBy":  p.CreatedBy,
		"createdAt":  p.CreatedAt.UTC().Format(time.RFC3339),
		"modifiedBy": p.ModifiedBy,
		"modifiedAt": p.ModifiedAt.UTC().Format(time.RFC3339),
	}
	if p.ScheduledDate != nil {
		view["scheduledDate"] = p.ScheduledDate.UTC().Format(time.RFC3339)
	}
	if p.PublishedDate != nil {
		view["publishedDate"] = p.PublishedDate.UTC().Format(time.RFC3339)
	}
	return view
}

func postViews(posts []store.Post) []map[string]any {
	views := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		views = append(views, postView(p))
	}
	return views
}

func approvalView(a store.ApprovalRecord) map[string]any {
	view := map[string]any{
		"id":           a.ID,
		"postId":       a.PostID,
		"stage":        a.Stage,
		"invitedEmail": a.InvitedEmail,
		"invitedName":  a.InvitedName,
		"decidedBy":    a.DecidedBy,
		"status":       a.Status,
		"notes":        a.DecisionNotes,
		"createdDate":  a.CreatedDate.UTC().Format(time.RFC3339),
	}
	if a.DecisionDate != nil {
		view["decisionDate"] = a.DecisionDate.UTC().Format(time.RFC3339)
	}
	return view
}

func approvalViews(records []store.ApprovalRecord) []map[string]any {
	views := make([]map[string]any, 0, len(records))
	for _, a := range records {
		views = append(views, approvalView(a))
	}
	return views
}

func grantView(g store.AuthorizedClient) map[string]any {
	view := map[string]any{
		"id":          g.ID,
		"clientId":    g.ClientID,
		"email":       g.Email,
		"accessType":  g.AccessType,
		"accessLevel": g.AccessLevel,
		"status":      g.Status,
		"postIds":     g.PostIDs,
	}
	if g.TokenExpires != nil {
		view["tokenExpires"] = g.TokenExpires.UTC().Format(time.RFC3339)
	}
	if g.LastLogin != nil {
		view["lastLogin"] = g.LastLogin.UTC().Format(time.RFC3339)
	}
	return view
}

func grantViews(grants []store.AuthorizedClient) []map[string]any {
	views := make([]map[string]any, 0, len(grants))
	for _, g := range grants {
		views = append(views, grantView(g))
	}
	return views
}

func notificationView(n store.Notification) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"message":   n.Message,
		"type":      n.Type,
		"read":      n.Read,
		"postId":    n.PostID,
		"actionUrl": n.ActionURL,
		"createdAt": n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func notificationViews(items []store.Notification) []map[string]any {
	views := make([]map[string]any, 0, len(items))
	for _, n := range items {
		views = append(views, notificationView(n))
	}
	return views
}

func versionView(v store.PostVersion) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"postId":      v.PostID,
		"versionName": v.VersionName,
		"commitHash":  v.CommitHash,
		"trigger":     v.Trigger,
		"isApproved":  v.IsApproved,
		"postStatus":  v.PostStatus,
		"createdBy":   v.CreatedBy,
		"createdAt":   v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func versionViews(versions []store.PostVersion) []map[string]any {
	views := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		views = append(views, versionView(v))
	}
	return views
}
