package portal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"planner/api/internal/auth"
	"planner/api/internal/store"
)

func redisClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	return redis.NewClient(&redis.Options{Addr: addr})
}

type fakePortalStore struct {
	clients  map[string]store.Client
	grants   map[string]store.AuthorizedClient
	posts    map[string][]store.Post
	visible  []store.Post
	touched  []string
	appended []string
}

func newFakePortalStore() *fakePortalStore {
	return &fakePortalStore{
		clients: map[string]store.Client{
			"client-1": {ID: "client-1", Name: "Acme Foods"},
		},
		grants: make(map[string]store.AuthorizedClient),
		posts:  make(map[string][]store.Post),
	}
}

func (f *fakePortalStore) GetClient(_ context.Context, clientID string) (store.Client, error) {
	client, ok := f.clients[clientID]
	if !ok {
		return store.Client{}, store.ErrNotFound
	}
	return client, nil
}

func (f *fakePortalStore) InsertAuthorizedClient(_ context.Context, item store.AuthorizedClient) error {
	f.grants[item.ID] = item
	return nil
}

func (f *fakePortalStore) AuthorizedClientByTokenHash(_ context.Context, tokenHash string) (store.AuthorizedClient, error) {
	for _, grant := range f.grants {
		if grant.TokenHash == tokenHash {
			return grant, nil
		}
	}
	return store.AuthorizedClient{}, store.ErrNotFound
}

func (f *fakePortalStore) AuthorizedClientByEmail(_ context.Context, clientID, email string) (store.AuthorizedClient, error) {
	for _, grant := range f.grants {
		if grant.ClientID == clientID && strings.EqualFold(grant.Email, email) {
			return grant, nil
		}
	}
	return store.AuthorizedClient{}, store.ErrNotFound
}

func (f *fakePortalStore) GetAuthorizedClient(_ context.Context, id string) (store.AuthorizedClient, error) {
	grant, ok := f.grants[id]
	if !ok {
		return store.AuthorizedClient{}, store.ErrNotFound
	}
	return grant, nil
}

func (f *fakePortalStore) ListAuthorizedClients(_ context.Context, clientID string) ([]store.AuthorizedClient, error) {
	items := make([]store.AuthorizedClient, 0)
	for _, grant := range f.grants {
		if grant.ClientID == clientID {
			items = append(items, grant)
		}
	}
	return items, nil
}

func (f *fakePortalStore) UpdateAuthorizedClientStatus(_ context.Context, id, status string) error {
	grant, ok := f.grants[id]
	if !ok {
		return store.ErrNotFound
	}
	grant.Status = status
	f.grants[id] = grant
	return nil
}

func (f *fakePortalStore) UpdateAuthorizedClientAccess(_ context.Context, id, accessType, accessLevel string, postIDs []string) error {
	grant, ok := f.grants[id]
	if !ok {
		return store.ErrNotFound
	}
	grant.AccessType = accessType
	grant.AccessLevel = accessLevel
	grant.PostIDs = postIDs
	f.grants[id] = grant
	return nil
}

func (f *fakePortalStore) AppendAuthorizedPost(_ context.Context, id, postID string) error {
	grant, ok := f.grants[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range grant.PostIDs {
		if existing == postID {
			return nil
		}
	}
	grant.PostIDs = append(grant.PostIDs, postID)
	f.grants[id] = grant
	f.appended = append(f.appended, id+":"+postID)
	return nil
}

func (f *fakePortalStore) TouchAuthorizedClientLogin(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakePortalStore) ListPostsByClient(_ context.Context, clientID string) ([]store.Post, error) {
	return f.posts[clientID], nil
}

func (f *fakePortalStore) ListVisiblePosts(_ context.Context, clientID string, allowedPostIDs []string) ([]store.Post, error) {
	return f.visible, nil
}

type fakeInviteMailer struct {
	invites []string
}

func (f *fakeInviteMailer) IsConfigured() bool { return true }
func (f *fakeInviteMailer) SendPortalInviteEmail(to, clientName, portalURL string) error {
	f.invites = append(f.invites, to+":"+clientName)
	return nil
}

func newTestService(t *testing.T, data *fakePortalStore) (*Service, *fakeInviteMailer) {
	t.Helper()
	s := miniredis.RunT(t)
	cache := NewRedisCacheWithClient(redisClient(t, s.Addr()))
	mail := &fakeInviteMailer{}
	svc := &Service{
		store:    data,
		cache:    cache,
		mail:     mail,
		appURL:   "https://planner.example",
		cacheTTL: time.Hour,
	}
	return svc, mail
}

func TestNewTokenShape(t *testing.T) {
	token, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if len(token) != tokenLength {
		t.Fatalf("token length = %d, want %d", len(token), tokenLength)
	}
	for _, ch := range token {
		if !strings.ContainsRune(tokenAlphabet, ch) {
			t.Fatalf("token contains %q outside the alphabet", ch)
		}
	}

	other, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if token == other {
		t.Fatal("two tokens must not collide")
	}
}

func TestGrantAndValidate(t *testing.T) {
	data := newFakePortalStore()
	svc, mail := newTestService(t, data)
	ctx := context.Background()

	grant, token, err := svc.GrantAccess(ctx, GrantInput{
		ClientID:    "client-1",
		Email:       "jane@client.example",
		AccessType:  store.AccessTypeRestricted,
		AccessLevel: store.AccessLevelReadOnly,
		PostIDs:     []string{"post-1"},
		GrantedBy:   "creator@agency.example",
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.TokenHash != auth.HashToken(token) {
		t.Fatal("stored hash must match the issued token")
	}
	if len(mail.invites) != 1 || mail.invites[0] != "jane@client.example:Acme Foods" {
		t.Fatalf("invites = %v", mail.invites)
	}

	validated, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.ID != grant.ID {
		t.Fatalf("validated grant = %q, want %q", validated.ID, grant.ID)
	}
	if len(data.touched) != 1 {
		t.Fatalf("last-login touches = %d, want 1", len(data.touched))
	}

	// second validation is served from the cache, no extra touch
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("cached validate: %v", err)
	}
	if len(data.touched) != 1 {
		t.Fatalf("cached validation must not touch login again, touches = %d", len(data.touched))
	}
}

func TestValidateRejectsUnknownAndRevoked(t *testing.T) {
	data := newFakePortalStore()
	svc, _ := newTestService(t, data)
	ctx := context.Background()

	if _, err := svc.ValidateToken(ctx, "no-such-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token err = %v, want ErrInvalidToken", err)
	}

	grant, token, err := svc.GrantAccess(ctx, GrantInput{ClientID: "client-1", Email: "jane@client.example"})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.RevokeAccess(ctx, grant.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked token err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	data := newFakePortalStore()
	svc, _ := newTestService(t, data)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	_, token, err := svc.GrantAccess(ctx, GrantInput{
		ClientID:  "client-1",
		Email:     "jane@client.example",
		ExpiresAt: &expired,
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err = %v, want ErrInvalidToken", err)
	}
}

func TestResolvePostsByAccessType(t *testing.T) {
	data := newFakePortalStore()
	data.posts["client-1"] = []store.Post{{ID: "post-1"}, {ID: "post-2"}, {ID: "post-3"}}
	data.visible = []store.Post{{ID: "post-2"}}
	svc, _ := newTestService(t, data)
	ctx := context.Background()

	full, err := svc.ResolvePosts(ctx, store.AuthorizedClient{ClientID: "client-1", AccessType: store.AccessTypeFull})
	if err != nil {
		t.Fatalf("resolve full: %v", err)
	}
	if len(full) != 3 {
		t.Fatalf("full access posts = %d, want 3", len(full))
	}

	restricted, err := svc.ResolvePosts(ctx, store.AuthorizedClient{ClientID: "client-1", AccessType: store.AccessTypeRestricted, PostIDs: []string{"post-2"}})
	if err != nil {
		t.Fatalf("resolve restricted: %v", err)
	}
	if len(restricted) != 1 || restricted[0].ID != "post-2" {
		t.Fatalf("restricted posts = %+v", restricted)
	}
}

func TestAddPostToAccessIsNoopForFullGrants(t *testing.T) {
	data := newFakePortalStore()
	svc, _ := newTestService(t, data)
	ctx := context.Background()

	grant, _, err := svc.GrantAccess(ctx, GrantInput{ClientID: "client-1", Email: "jane@client.example", AccessType: store.AccessTypeFull})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.AddPostToAccess(ctx, grant.ID, "post-9"); err != nil {
		t.Fatalf("add post: %v", err)
	}
	if len(data.appended) != 0 {
		t.Fatal("full-type grants must not accumulate an allowlist")
	}
}

func TestGrantPostAccessReusesActiveGrant(t *testing.T) {
	data := newFakePortalStore()
	svc, _ := newTestService(t, data)
	ctx := context.Background()

	if err := svc.GrantPostAccess(ctx, "client-1", "jane@client.example", "post-1", "creator@agency.example"); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if len(data.grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(data.grants))
	}

	if err := svc.GrantPostAccess(ctx, "client-1", "jane@client.example", "post-2", "creator@agency.example"); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if len(data.grants) != 1 {
		t.Fatal("an active grant must be reused, not duplicated")
	}
	for _, grant := range data.grants {
		if len(grant.PostIDs) != 2 {
			t.Fatalf("allowlist = %v, want both posts", grant.PostIDs)
		}
	}

	// re-adding an already-listed post is a no-op
	if err := svc.GrantPostAccess(ctx, "client-1", "jane@client.example", "post-2", "creator@agency.example"); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}
	for _, grant := range data.grants {
		if len(grant.PostIDs) != 2 {
			t.Fatalf("allowlist grew on repeat grant: %v", grant.PostIDs)
		}
	}
}

func TestUpdateAccessInvalidatesCache(t *testing.T) {
	data := newFakePortalStore()
	svc, _ := newTestService(t, data)
	ctx := context.Background()

	grant, token, err := svc.GrantAccess(ctx, GrantInput{ClientID: "client-1", Email: "jane@client.example", AccessType: store.AccessTypeRestricted})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := svc.UpdateAccess(ctx, grant.ID, store.AccessTypeFull, store.AccessLevelFull, nil); err != nil {
		t.Fatalf("update access: %v", err)
	}

	validated, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate after update: %v", err)
	}
	if validated.AccessType != store.AccessTypeFull {
		t.Fatalf("stale cache entry served, access type = %q", validated.AccessType)
	}
}
