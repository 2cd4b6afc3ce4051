// Package portal resolves external client tokens to scoped views of a
// client's posts.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"planner/api/internal/auth"
	"planner/api/internal/store"
	"planner/api/internal/util"
)

// ErrInvalidToken covers missing, inactive, expired and revoked grants.
// Callers must not learn which of those it was.
var ErrInvalidToken = errors.New("invalid portal token")

type portalStore interface {
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	InsertAuthorizedClient(ctx context.Context, item store.AuthorizedClient) error
	AuthorizedClientByTokenHash(ctx context.Context, tokenHash string) (store.AuthorizedClient, error)
	AuthorizedClientByEmail(ctx context.Context, clientID, email string) (store.AuthorizedClient, error)
	GetAuthorizedClient(ctx context.Context, id string) (store.AuthorizedClient, error)
	ListAuthorizedClients(ctx context.Context, clientID string) ([]store.AuthorizedClient, error)
	UpdateAuthorizedClientStatus(ctx context.Context, id, status string) error
	UpdateAuthorizedClientAccess(ctx context.Context, id, accessType, accessLevel string, postIDs []string) error
	AppendAuthorizedPost(ctx context.Context, id, postID string) error
	TouchAuthorizedClientLogin(ctx context.Context, id string) error
	ListPostsByClient(ctx context.Context, clientID string) ([]store.Post, error)
	ListVisiblePosts(ctx context.Context, clientID string, allowedPostIDs []string) ([]store.Post, error)
}

type inviteMailer interface {
	IsConfigured() bool
	SendPortalInviteEmail(to, clientName, portalURL string) error
}

// Service is the client access gateway: it issues, validates and maintains
// portal grants, and resolves the posts a grant may see.
type Service struct {
	store    portalStore
	cache    *RedisCache
	mail     inviteMailer
	appURL   string
	cacheTTL time.Duration
}

func NewService(dataStore *store.PostgresStore, cache *RedisCache, mail inviteMailer, appURL string, cacheTTL time.Duration) *Service {
	return &Service{
		store:    dataStore,
		cache:    cache,
		mail:     mail,
		appURL:   appURL,
		cacheTTL: cacheTTL,
	}
}

type GrantInput struct {
	ClientID    string
	Email       string
	AccessType  string
	AccessLevel string
	PostIDs     []string
	ExpiresAt   *time.Time
	GrantedBy   string
}

// GrantAccess creates a portal grant and returns it with the raw token.
// The token is shown exactly once; only its hash is stored.
func (s *Service) GrantAccess(ctx context.Context, input GrantInput) (store.AuthorizedClient, string, error) {
	client, err := s.store.GetClient(ctx, input.ClientID)
	if err != nil {
		return store.AuthorizedClient{}, "", fmt.Errorf("grant access: %w", err)
	}

	token, err := NewToken()
	if err != nil {
		return store.AuthorizedClient{}, "", err
	}

	accessType := input.AccessType
	if accessType == "" {
		accessType = store.AccessTypeFull
	}
	accessLevel := input.AccessLevel
	if accessLevel == "" {
		accessLevel = store.AccessLevelReadOnly
	}
	grant := store.AuthorizedClient{
		ID:           util.NewID("ac"),
		ClientID:     input.ClientID,
		Email:        input.Email,
		TokenHash:    auth.HashToken(token),
		AccessType:   accessType,
		AccessLevel:  accessLevel,
		Status:       "Active",
		PostIDs:      input.PostIDs,
		TokenExpires: input.ExpiresAt,
		CreatedBy:    input.GrantedBy,
	}
	if err := s.store.InsertAuthorizedClient(ctx, grant); err != nil {
		return store.AuthorizedClient{}, "", err
	}

	if s.mail != nil && s.mail.IsConfigured() {
		if err := s.mail.SendPortalInviteEmail(input.Email, client.Name, s.portalURL(token)); err != nil {
			log.Printf("portal: invite email to %s failed: %v", input.Email, err)
		}
	}

	return grant, token, nil
}

// ValidateToken resolves a raw token to an active grant. Inactive, expired
// and unknown tokens all come back ErrInvalidToken.
func (s *Service) ValidateToken(ctx context.Context, token string) (store.AuthorizedClient, error) {
	if token == "" {
		return store.AuthorizedClient{}, ErrInvalidToken
	}
	tokenHash := auth.HashToken(token)

	if s.cache != nil {
		grant, found, err := s.cache.Lookup(ctx, tokenHash)
		if err != nil {
			log.Printf("portal: cache lookup failed: %v", err)
		} else if found {
			if !grant.Active(time.Now()) {
				return store.AuthorizedClient{}, ErrInvalidToken
			}
			return grant, nil
		}
	}

	grant, err := s.store.AuthorizedClientByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.AuthorizedClient{}, ErrInvalidToken
		}
		return store.AuthorizedClient{}, err
	}
	if !grant.Active(time.Now()) {
		return store.AuthorizedClient{}, ErrInvalidToken
	}

	if err := s.store.TouchAuthorizedClientLogin(ctx, grant.ID); err != nil {
		log.Printf("portal: touch login for %s failed: %v", grant.ID, err)
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, tokenHash, grant, s.cacheTTL); err != nil {
			log.Printf("portal: cache save failed: %v", err)
		}
	}
	return grant, nil
}

// ResolvePosts returns the posts a grant may see. Full access sees every
// post of the client; Restricted access sees the explicit allowlist plus
// any post that has ever been in client review.
func (s *Service) ResolvePosts(ctx context.Context, grant store.AuthorizedClient) ([]store.Post, error) {
	if grant.AccessType == store.AccessTypeRestricted {
		return s.store.ListVisiblePosts(ctx, grant.ClientID, grant.PostIDs)
	}
	return s.store.ListPostsByClient(ctx, grant.ClientID)
}

// AddPostToAccess widens a Restricted grant's allowlist by one post. For
// Full grants it is a no-op: their access is type-based, not list-based.
func (s *Service) AddPostToAccess(ctx context.Context, grantID, postID string) error {
	grant, err := s.store.GetAuthorizedClient(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.AccessType != store.AccessTypeRestricted {
		return nil
	}
	if err := s.store.AppendAuthorizedPost(ctx, grantID, postID); err != nil {
		return err
	}
	s.invalidate(ctx, grant.TokenHash)
	return nil
}

// RevokeAccess deactivates a grant and drops it from the cache.
func (s *Service) RevokeAccess(ctx context.Context, grantID string) error {
	grant, err := s.store.GetAuthorizedClient(ctx, grantID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAuthorizedClientStatus(ctx, grantID, "Revoked"); err != nil {
		return err
	}
	s.invalidate(ctx, grant.TokenHash)
	return nil
}

// UpdateAccess replaces a grant's access type, level and allowlist.
func (s *Service) UpdateAccess(ctx context.Context, grantID, accessType, accessLevel string, postIDs []string) error {
	grant, err := s.store.GetAuthorizedClient(ctx, grantID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAuthorizedClientAccess(ctx, grantID, accessType, accessLevel, postIDs); err != nil {
		return err
	}
	s.invalidate(ctx, grant.TokenHash)
	return nil
}

// ListGrants returns every grant for a client, newest first.
func (s *Service) ListGrants(ctx context.Context, clientID string) ([]store.AuthorizedClient, error) {
	return s.store.ListAuthorizedClients(ctx, clientID)
}

// GrantPostAccess makes sure the given email can see the given post through
// the portal, creating a Restricted grant when none is active yet. The
// workflow engine calls this when a post enters client review.
func (s *Service) GrantPostAccess(ctx context.Context, clientID, email, postID, grantedBy string) error {
	grant, err := s.store.AuthorizedClientByEmail(ctx, clientID, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil && grant.Active(time.Now()) {
		return s.AddPostToAccess(ctx, grant.ID, postID)
	}

	_, _, err = s.GrantAccess(ctx, GrantInput{
		ClientID:    clientID,
		Email:       email,
		AccessType:  store.AccessTypeRestricted,
		AccessLevel: store.AccessLevelReadOnly,
		PostIDs:     []string{postID},
		GrantedBy:   grantedBy,
	})
	return err
}

func (s *Service) invalidate(ctx context.Context, tokenHash string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, tokenHash); err != nil {
		log.Printf("portal: cache invalidate failed: %v", err)
	}
}

func (s *Service) portalURL(token string) string {
	if s.appURL == "" {
		return token
	}
	return s.appURL + "/portal?token=" + token
}
