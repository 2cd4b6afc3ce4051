package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"planner/api/internal/auth"
	"planner/api/internal/authpw"
	"planner/api/internal/config"
	"planner/api/internal/portal"
	"planner/api/internal/rbac"
	"planner/api/internal/search"
	"planner/api/internal/snapshot"
	"planner/api/internal/store"
	"planner/api/internal/util"
	"planner/api/internal/workflow"
)

// triggerAgencyEdit labels snapshots taken when an agency user edits post
// content outside the review flow.
const triggerAgencyEdit = "Agency_Edit"

// triggerManual labels snapshots requested explicitly via the versions API.
const triggerManual = "Manual"

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	Role      string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)

	GetClient(ctx context.Context, clientID string) (store.Client, error)
	InsertClient(ctx context.Context, client store.Client) error

	GetPost(ctx context.Context, postID string) (store.Post, error)
	InsertPost(ctx context.Context, post store.Post) error
	UpdatePostContent(ctx context.Context, postID, title, copyText, hashtags, notes, modifiedBy string) error
	MarkPostPublished(ctx context.Context, postID, modifiedBy string) error
	ListPostsByClient(ctx context.Context, clientID string) ([]store.Post, error)

	GetApproval(ctx context.Context, approvalID string) (store.ApprovalRecord, error)

	UnreadNotifications(ctx context.Context, email string) ([]store.Notification, error)
	UnreadNotificationCount(ctx context.Context, email string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkNotificationsReadForPost(ctx context.Context, email, postID string) error
	MarkAllNotificationsRead(ctx context.Context, email string) error

	ListPostVersions(ctx context.Context, postID string) ([]store.PostVersion, error)
}

type approvalEngine interface {
	SubmitForInternalReview(ctx context.Context, postID, actor string) (workflow.SubmitResult, error)
	SubmitForClientReview(ctx context.Context, postID string, skipInternalCheck bool, actor string) (workflow.SubmitResult, error)
	RecordDecision(ctx context.Context, approvalID, decision, notes, deciderEmail string) (workflow.DecisionResult, error)
	SubmitDecision(ctx context.Context, approvalID, decision, comments, deciderEmail string) (workflow.DecisionResult, error)
	AmendDecision(ctx context.Context, approvalID, decision, notes, deciderEmail string) (workflow.DecisionResult, error)
	PendingApprovalsForUser(ctx context.Context, email string) ([]store.ApprovalRecord, error)
	ApprovalHistory(ctx context.Context, postID string) ([]store.ApprovalRecord, error)
}

type portalGateway interface {
	GrantAccess(ctx context.Context, input portal.GrantInput) (store.AuthorizedClient, string, error)
	ValidateToken(ctx context.Context, token string) (store.AuthorizedClient, error)
	ResolvePosts(ctx context.Context, grant store.AuthorizedClient) ([]store.Post, error)
	AddPostToAccess(ctx context.Context, grantID, postID string) error
	RevokeAccess(ctx context.Context, grantID string) error
	UpdateAccess(ctx context.Context, grantID, accessType, accessLevel string, postIDs []string) error
	ListGrants(ctx context.Context, clientID string) ([]store.AuthorizedClient, error)
}

type snapshotter interface {
	EnsurePostRepo(postID string, initial snapshot.Content, author string) error
	CapturePostVersion(ctx context.Context, post store.Post, trigger string, isApproved bool, actor string) error
	History(postID string, limit int) ([]snapshot.CommitInfo, error)
	GetContentByHash(postID, hash string) (snapshot.Content, error)
}

type userAuthenticator interface {
	SignIn(ctx context.Context, email, password string) (store.User, error)
	CreateUser(ctx context.Context, req authpw.CreateUserRequest) (store.User, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	engine approvalEngine
	portal portalGateway
	snaps  snapshotter
	users  userAuthenticator
	search *search.Service // nil when search is not configured
}

func New(cfg config.Config, dataStore *store.PostgresStore, engine *workflow.Engine, portalSvc *portal.Service, snaps *snapshot.Service, users *authpw.Service, searchSvc *search.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		engine: engine,
		portal: portalSvc,
		snaps:  snaps,
		users:  users,
		search: searchSvc,
	}
}

// Bootstrap backfills the search index from Postgres. Safe to call on every
// start; a no-op when Meilisearch is not configured.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Sessions

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.FullName,
		Role:  user.Role,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.FullName,
		Email:     user.Email,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	// Role changes take effect on the next request, not the next login.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.FullName,
		Email:    user.Email,
		Role:     user.Role,
	}, nil
}

func (s *Service) CreateUser(ctx context.Context, email, password, fullName, role string) (store.User, error) {
	user, err := s.users.CreateUser(ctx, authpw.CreateUserRequest{
		Email:    email,
		Password: password,
		FullName: fullName,
		Role:     role,
	})
	if err != nil {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return user, nil
}

// Clients

type CreateClientInput struct {
	Name              string
	InternalApprovers string
	ClientApprovers   string
}

func (s *Service) CreateClient(ctx context.Context, input CreateClientInput) (store.Client, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Client{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	client := store.Client{
		ID:                     util.NewID("cli"),
		Name:                   strings.TrimSpace(input.Name),
		InternalApproverEmails: input.InternalApprovers,
		ClientApproverEmails:   input.ClientApprovers,
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		return store.Client{}, err
	}
	if s.search != nil {
		s.search.IndexClient(search.ClientRecord{ID: client.ID, Name: client.Name})
	}
	return client, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (store.Client, error) {
	return s.store.GetClient(ctx, clientID)
}

// Posts

type CreatePostInput struct {
	ClientID          string
	Title             string
	Copy              string
	Hashtags          string
	Notes             string
	ScheduledDate     *time.Time
	InternalApprovers string
	ClientApprovers   string
	Actor             string
}

func (s *Service) CreatePost(ctx context.Context, input CreatePostInput) (store.Post, error) {
	if strings.TrimSpace(input.ClientID) == "" {
		return store.Post{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "clientId is required", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Post{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if _, err := s.store.GetClient(ctx, input.ClientID); err != nil {
		return store.Post{}, err
	}

	post := store.Post{
		ID:                util.NewID("post"),
		ClientID:          input.ClientID,
		Title:             strings.TrimSpace(input.Title),
		Copy:              input.Copy,
		Hashtags:          input.Hashtags,
		Notes:             input.Notes,
		Status:            store.StatusDraft,
		ScheduledDate:     input.ScheduledDate,
		InternalApprovers: input.InternalApprovers,
		ClientApprovers:   input.ClientApprovers,
		CreatedBy:         input.Actor,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return store.Post{}, err
	}

	if err := s.snaps.EnsurePostRepo(post.ID, snapshot.ContentFromPost(post), input.Actor); err != nil {
		log.Printf("app: init snapshot repo for %s: %v", post.ID, err)
	}
	s.indexPost(post)
	return post, nil
}

func (s *Service) GetPost(ctx context.Context, postID string) (store.Post, error) {
	return s.store.GetPost(ctx, postID)
}

func (s *Service) ListPostsByClient(ctx context.Context, clientID string) ([]store.Post, error) {
	return s.store.ListPostsByClient(ctx, clientID)
}

type UpdatePostInput struct {
	PostID   string
	Title    string
	Copy     string
	Hashtags string
	Notes    string
	Actor    string
}

// UpdatePost replaces the editable content of a post and captures an
// Agency_Edit snapshot when the content actually changed.
func (s *Service) UpdatePost(ctx context.Context, input UpdatePostInput) (store.Post, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Post{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	current, err := s.store.GetPost(ctx, input.PostID)
	if err != nil {
		return store.Post{}, err
	}
	if current.Status == store.StatusPublished || current.Status == store.StatusCancelled {
		return store.Post{}, domainError(http.StatusConflict, "POST_LOCKED", "Post can no longer be edited", map[string]any{"status": current.Status})
	}

	changed := current.Title != input.Title ||
		current.Copy != input.Copy ||
		current.Hashtags != input.Hashtags ||
		current.Notes != input.Notes

	if err := s.store.UpdatePostContent(ctx, input.PostID, input.Title, input.Copy, input.Hashtags, input.Notes, input.Actor); err != nil {
		return store.Post{}, err
	}

	post, err := s.store.GetPost(ctx, input.PostID)
	if err != nil {
		return store.Post{}, err
	}

	if changed {
		if err := s.snaps.CapturePostVersion(ctx, post, triggerAgencyEdit, false, input.Actor); err != nil {
			log.Printf("app: capture edit snapshot for %s: %v", post.ID, err)
		}
	}
	s.indexPost(post)
	return post, nil
}

// MarkPostPublished records that a post went live. The approval engine never
// writes Published; this is the only path to that status.
func (s *Service) MarkPostPublished(ctx context.Context, postID, actor string) (store.Post, error) {
	current, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, err
	}
	if current.Status != store.StatusApproved && current.Status != store.StatusScheduled {
		return store.Post{}, domainError(http.StatusConflict, "NOT_APPROVED", "Only approved posts can be published", map[string]any{"status": current.Status})
	}
	if err := s.store.MarkPostPublished(ctx, postID, actor); err != nil {
		return store.Post{}, err
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, err
	}
	s.indexPost(post)
	return post, nil
}

// Approval workflow

func (s *Service) SubmitForInternalReview(ctx context.Context, postID, actor string) (workflow.SubmitResult, error) {
	result, err := s.engine.SubmitForInternalReview(ctx, postID, actor)
	if err != nil {
		return workflow.SubmitResult{}, err
	}
	s.reindexPost(ctx, postID)
	return result, nil
}

func (s *Service) SubmitForClientReview(ctx context.Context, postID string, skipInternalCheck bool, actor string) (workflow.SubmitResult, error) {
	result, err := s.engine.SubmitForClientReview(ctx, postID, skipInternalCheck, actor)
	if err != nil {
		return workflow.SubmitResult{}, err
	}
	s.reindexPost(ctx, postID)
	return result, nil
}

func (s *Service) RecordDecision(ctx context.Context, approvalID, decision, notes, deciderEmail string) (workflow.DecisionResult, error) {
	return s.decide(ctx, approvalID, decision, notes, deciderEmail, s.engine.RecordDecision)
}

func (s *Service) SubmitDecision(ctx context.Context, approvalID, decision, comments, deciderEmail string) (workflow.DecisionResult, error) {
	return s.decide(ctx, approvalID, decision, comments, deciderEmail, s.engine.SubmitDecision)
}

func (s *Service) AmendDecision(ctx context.Context, approvalID, decision, notes, deciderEmail string) (workflow.DecisionResult, error) {
	return s.decide(ctx, approvalID, decision, notes, deciderEmail, s.engine.AmendDecision)
}

func (s *Service) decide(ctx context.Context, approvalID, decision, notes, deciderEmail string, op func(context.Context, string, string, string, string) (workflow.DecisionResult, error)) (workflow.DecisionResult, error) {
	record, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return workflow.DecisionResult{}, err
	}
	result, err := op(ctx, approvalID, decision, notes, deciderEmail)
	if err != nil {
		return workflow.DecisionResult{}, err
	}
	s.reindexPost(ctx, record.PostID)
	return result, nil
}

func (s *Service) PendingApprovals(ctx context.Context, email string) ([]store.ApprovalRecord, error) {
	return s.engine.PendingApprovalsForUser(ctx, email)
}

func (s *Service) ApprovalHistory(ctx context.Context, postID string) ([]store.ApprovalRecord, error) {
	return s.engine.ApprovalHistory(ctx, postID)
}

// Versions

func (s *Service) PostVersions(ctx context.Context, postID string) ([]store.PostVersion, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.store.ListPostVersions(ctx, postID)
}

func (s *Service) VersionContent(ctx context.Context, postID, hash string) (snapshot.Content, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return snapshot.Content{}, err
	}
	content, err := s.snaps.GetContentByHash(postID, hash)
	if err != nil {
		return snapshot.Content{}, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	return content, nil
}

func (s *Service) SnapshotHistory(ctx context.Context, postID string, limit int) ([]snapshot.CommitInfo, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.snaps.History(postID, limit)
}

// CaptureVersion takes an explicit snapshot of the current post content.
func (s *Service) CaptureVersion(ctx context.Context, postID, actor string) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	return s.snaps.CapturePostVersion(ctx, post, triggerManual, post.Status == store.StatusApproved, actor)
}

// Portal administration

type PortalAccessResult struct {
	Grant     store.AuthorizedClient
	Token     string
	PortalURL string
}

func (s *Service) GrantPortalAccess(ctx context.Context, input portal.GrantInput) (PortalAccessResult, error) {
	if strings.TrimSpace(input.Email) == "" {
		return PortalAccessResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}
	if _, err := s.store.GetClient(ctx, input.ClientID); err != nil {
		return PortalAccessResult{}, err
	}
	grant, token, err := s.portal.GrantAccess(ctx, input)
	if err != nil {
		return PortalAccessResult{}, err
	}
	return PortalAccessResult{
		Grant:     grant,
		Token:     token,
		PortalURL: strings.TrimRight(s.cfg.AppURL, "/") + "/portal/" + token,
	}, nil
}

func (s *Service) ListPortalGrants(ctx context.Context, clientID string) ([]store.AuthorizedClient, error) {
	return s.portal.ListGrants(ctx, clientID)
}

func (s *Service) RevokePortalAccess(ctx context.Context, grantID string) error {
	return s.portal.RevokeAccess(ctx, grantID)
}

func (s *Service) UpdatePortalAccess(ctx context.Context, grantID, accessType, accessLevel string, postIDs []string) error {
	return s.portal.UpdateAccess(ctx, grantID, accessType, accessLevel, postIDs)
}

func (s *Service) AddPostToPortalAccess(ctx context.Context, grantID, postID string) error {
	return s.portal.AddPostToAccess(ctx, grantID, postID)
}

// Portal (token-authenticated, no agency session)

type PortalView struct {
	Grant  store.AuthorizedClient
	Client store.Client
	Posts  []store.Post
}

func (s *Service) PortalSession(ctx context.Context, token string) (PortalView, error) {
	grant, err := s.portal.ValidateToken(ctx, token)
	if err != nil {
		return PortalView{}, err
	}
	client, err := s.store.GetClient(ctx, grant.ClientID)
	if err != nil {
		return PortalView{}, err
	}
	posts, err := s.portal.ResolvePosts(ctx, grant)
	if err != nil {
		return PortalView{}, err
	}
	return PortalView{Grant: grant, Client: client, Posts: posts}, nil
}

// PortalDecision records an approval decision on behalf of a portal visitor.
// The decided-by identity is the grant's email, which may differ from the
// invited address when a shared alias was invited.
func (s *Service) PortalDecision(ctx context.Context, token, approvalID, decision, comments string) (workflow.DecisionResult, error) {
	grant, err := s.portal.ValidateToken(ctx, token)
	if err != nil {
		return workflow.DecisionResult{}, err
	}
	record, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return workflow.DecisionResult{}, err
	}

	accessible, err := s.portal.ResolvePosts(ctx, grant)
	if err != nil {
		return workflow.DecisionResult{}, err
	}
	allowed := false
	for _, post := range accessible {
		if post.ID == record.PostID {
			allowed = true
			break
		}
	}
	if !allowed {
		return workflow.DecisionResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "Post is not accessible with this link", nil)
	}

	result, err := s.engine.SubmitDecision(ctx, approvalID, decision, comments, grant.Email)
	if err != nil {
		return workflow.DecisionResult{}, err
	}
	s.reindexPost(ctx, record.PostID)
	return result, nil
}

// Notifications

func (s *Service) UnreadNotifications(ctx context.Context, email string) ([]store.Notification, error) {
	return s.store.UnreadNotifications(ctx, email)
}

func (s *Service) UnreadNotificationCount(ctx context.Context, email string) (int, error) {
	return s.store.UnreadNotificationCount(ctx, email)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	return s.store.MarkNotificationRead(ctx, id)
}

func (s *Service) MarkNotificationsReadForPost(ctx context.Context, email, postID string) error {
	return s.store.MarkNotificationsReadForPost(ctx, email, postID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, email string) error {
	return s.store.MarkAllNotificationsRead(ctx, email)
}

// Search

func (s *Service) Search(ctx context.Context, text, filterType, clientID string, limit, offset int, isExternal bool) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterClientID: clientID,
		Limit:          limit,
		Offset:         offset,
		IsExternal:     isExternal,
	}), nil
}

func (s *Service) indexPost(post store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:       post.ID,
		Title:    post.Title,
		Copy:     post.Copy,
		Hashtags: post.Hashtags,
		ClientID: post.ClientID,
		Status:   post.Status,
	})
}

// reindexPost refreshes the search document after a status transition.
func (s *Service) reindexPost(ctx context.Context, postID string) {
	if s.search == nil {
		return
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		log.Printf("app: reindex post %s: %v", postID, err)
		return
	}
	s.indexPost(post)
}
