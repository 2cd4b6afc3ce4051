package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a row lookup matches nothing.
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

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.FullName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, password_hash, role, created_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.FullName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, password_hash, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.FullName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// ---------------------------------------------------------------------------
// Clients

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	var client Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(internal_approver_emails, ''), COALESCE(client_approver_emails, ''), created_at
		FROM clients
		WHERE id=$1
	`, clientID).Scan(&client.ID, &client.Name, &client.InternalApproverEmails, &client.ClientApproverEmails, &client.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

func (s *PostgresStore) InsertClient(ctx context.Context, client Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, internal_approver_emails, client_approver_emails)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, client.ID, client.Name, client.InternalApproverEmails, client.ClientApproverEmails)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// GetClientDefaults resolves the fallback approver lists for a client. The
// client-side list falls back to the emails of active portal grantees when
// the client record carries none.
func (s *PostgresStore) GetClientDefaults(ctx context.Context, clientID string) (ClientDefaults, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return ClientDefaults{}, err
	}

	defaults := ClientDefaults{
		InternalApproverEmails: SplitEmails(client.InternalApproverEmails),
		ClientApproverEmails:   SplitEmails(client.ClientApproverEmails),
	}
	if len(defaults.ClientApproverEmails) > 0 {
		return defaults, nil
	}

	emails, err := s.ActiveAuthorizedEmails(ctx, clientID)
	if err != nil {
		return ClientDefaults{}, err
	}
	defaults.ClientApproverEmails = emails
	return defaults, nil
}

// ---------------------------------------------------------------------------
// Posts

const postColumns = `
	id, client_id, title, copy, COALESCE(hashtags, ''), COALESCE(notes, ''), status,
	scheduled_date, published_date,
	COALESCE(internal_approvers, ''), COALESCE(client_approvers, ''),
	created_by, created_at, COALESCE(modified_by, ''), modified_at
`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var post Post
	err := row.Scan(
		&post.ID,
		&post.ClientID,
		&post.Title,
		&post.Copy,
		&post.Hashtags,
		&post.Notes,
		&post.Status,
		&post.ScheduledDate,
		&post.PublishedDate,
		&post.InternalApprovers,
		&post.ClientApprovers,
		&post.CreatedBy,
		&post.CreatedAt,
		&post.ModifiedBy,
		&post.ModifiedAt,
	)
	return post, err
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, postID)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	status := post.Status
	if status == "" {
		status = StatusDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, client_id, title, copy, hashtags, notes, status, scheduled_date,
			internal_approvers, client_approvers, created_by, modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, post.ID, post.ClientID, post.Title, post.Copy, post.Hashtags, post.Notes, status,
		post.ScheduledDate, post.InternalApprovers, post.ClientApprovers, post.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePostContent(ctx context.Context, postID, title, copyText, hashtags, notes, modifiedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title=$2, copy=$3, hashtags=$4, notes=$5, modified_by=$6, modified_at=NOW()
		WHERE id=$1
	`, postID, title, copyText, hashtags, notes, modifiedBy)
	if err != nil {
		return fmt.Errorf("update post content: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPostStatus writes the single current-status field. Only the workflow
// engine calls this.
func (s *PostgresStore) SetPostStatus(ctx context.Context, postID, status, modifiedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET status=$2, modified_by=$3, modified_at=NOW()
		WHERE id=$1
	`, postID, status, modifiedBy)
	if err != nil {
		return fmt.Errorf("set post status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set post status rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkPostPublished(ctx context.Context, postID, modifiedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET status=$2, published_date=NOW(), modified_by=$3, modified_at=NOW()
		WHERE id=$1
	`, postID, StatusPublished, modifiedBy)
	if err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark post published rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPostsByClient(ctx context.Context, clientID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE client_id=$1
		ORDER BY scheduled_date ASC NULLS LAST, created_at ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list posts by client: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

// ListVisiblePosts returns the client's posts a Restricted grantee may see:
// the explicit allowlist plus any post that has ever had a Client-stage
// approval record, so a post bounced back to internal review stays visible.
func (s *PostgresStore) ListVisiblePosts(ctx context.Context, clientID string, allowedPostIDs []string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		WHERE p.client_id=$1
		  AND (
			p.id = ANY(string_to_array($2, ','))
			OR EXISTS (
				SELECT 1 FROM post_approvals a
				WHERE a.post_id = p.id AND a.stage IN ('Client', 'Client_Review')
			)
		  )
		ORDER BY p.scheduled_date ASC NULLS LAST, p.created_at ASC
	`, clientID, strings.Join(allowedPostIDs, ","))
	if err != nil {
		return nil, fmt.Errorf("list visible posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visible post: %w", err)
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visible posts: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Approval records

// Invitee is one resolved approver for bulk record creation. The caller
// assigns the record ID.
type Invitee struct {
	ID    string
	Email string
	Name  string
}

const approvalColumns = `
	id, post_id, stage, invited_email, COALESCE(invited_name, ''), COALESCE(decided_by, ''),
	status, decision_date, COALESCE(decision_notes, ''), email_sent_date, created_date
`

func scanApproval(row interface{ Scan(...any) error }) (ApprovalRecord, error) {
	var record ApprovalRecord
	err := row.Scan(
		&record.ID,
		&record.PostID,
		&record.Stage,
		&record.InvitedEmail,
		&record.InvitedName,
		&record.DecidedBy,
		&record.Status,
		&record.DecisionDate,
		&record.DecisionNotes,
		&record.EmailSentDate,
		&record.CreatedDate,
	)
	return record, err
}

// CreateApprovals inserts one Pending record per invitee, deduplicated by
// email, preserving insertion order. IDs must be assigned by the caller.
func (s *PostgresStore) CreateApprovals(ctx context.Context, postID, stage string, invitees []Invitee) ([]ApprovalRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create approvals: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]bool)
	created := make([]ApprovalRecord, 0, len(invitees))
	for _, invitee := range invitees {
		email := strings.ToLower(strings.TrimSpace(invitee.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true

		var record ApprovalRecord
		row := tx.QueryRowContext(ctx, `
			INSERT INTO post_approvals (id, post_id, stage, invited_email, invited_name, status, email_sent_date)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING `+approvalColumns+`
		`, invitee.ID, postID, stage, email, invitee.Name, ApprovalPending)
		record, err = scanApproval(row)
		if err != nil {
			return nil, fmt.Errorf("insert approval: %w", err)
		}
		created = append(created, record)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create approvals: %w", err)
	}
	return created, nil
}

// stageFilter expands a canonical stage to its stored synonyms.
func stageFilter(stage string) []string {
	switch stage {
	case StageInternal:
		return []string{StageInternal, StatusInternalReview}
	case StageClient:
		return []string{StageClient, StatusClientReview}
	default:
		return []string{stage}
	}
}

func (s *PostgresStore) ApprovalsByPost(ctx context.Context, postID, stage string) ([]ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM post_approvals WHERE post_id=$1`
	args := []any{postID}
	if stage != "" {
		synonyms := stageFilter(stage)
		query += ` AND stage = ANY(string_to_array($2, ','))`
		args = append(args, strings.Join(synonyms, ","))
	}
	query += ` ORDER BY created_date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approvals by post: %w", err)
	}
	defer rows.Close()

	items := make([]ApprovalRecord, 0)
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, approvalID string) (ApprovalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM post_approvals WHERE id=$1`, approvalID)
	record, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ApprovalRecord{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRecord{}, fmt.Errorf("get approval: %w", err)
	}
	return record, nil
}

// RecordDecision writes the decision fields. decidedBy records who actually
// decided; empty means the invited identity decided for themselves.
func (s *PostgresStore) RecordDecision(ctx context.Context, approvalID, status, notes, decidedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE post_approvals
		SET status=$2, decision_date=NOW(), decision_notes=$3,
		    decided_by=CASE WHEN $4 <> '' THEN $4 ELSE invited_email END
		WHERE id=$1
	`, approvalID, status, notes, strings.ToLower(strings.TrimSpace(decidedBy)))
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record decision rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PendingApprovalsForUser(ctx context.Context, email string) ([]ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM post_approvals
		WHERE invited_email = LOWER($1) AND status=$2
		ORDER BY created_date ASC
	`, strings.TrimSpace(email), ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("pending approvals for user: %w", err)
	}
	defer rows.Close()

	items := make([]ApprovalRecord, 0)
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending approval: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending approvals: %w", err)
	}
	return items, nil
}

// ApprovalHistory returns every record for a post: decided records newest
// first, pending records last.
func (s *PostgresStore) ApprovalHistory(ctx context.Context, postID string) ([]ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM post_approvals
		WHERE post_id=$1
		ORDER BY (decision_date IS NULL) ASC, decision_date DESC, created_date ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("approval history: %w", err)
	}
	defer rows.Close()

	items := make([]ApprovalRecord, 0)
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history approval: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history approvals: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Authorized clients (portal access)

const authorizedClientColumns = `
	id, client_id, email, token_hash, access_type, access_level, status,
	COALESCE(post_ids::text, '[]'), token_expires, last_login, COALESCE(created_by, ''), created_at
`

func scanAuthorizedClient(row interface{ Scan(...any) error }) (AuthorizedClient, error) {
	var item AuthorizedClient
	var postIDsRaw string
	err := row.Scan(
		&item.ID,
		&item.ClientID,
		&item.Email,
		&item.TokenHash,
		&item.AccessType,
		&item.AccessLevel,
		&item.Status,
		&postIDsRaw,
		&item.TokenExpires,
		&item.LastLogin,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return AuthorizedClient{}, err
	}
	_ = json.Unmarshal([]byte(postIDsRaw), &item.PostIDs)
	return item, nil
}

func (s *PostgresStore) InsertAuthorizedClient(ctx context.Context, item AuthorizedClient) error {
	postIDs := item.PostIDs
	if postIDs == nil {
		postIDs = []string{}
	}
	encoded, err := json.Marshal(postIDs)
	if err != nil {
		return fmt.Errorf("marshal post ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authorized_clients (id, client_id, email, token_hash, access_type, access_level, status, post_ids, token_expires, created_by)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8::jsonb, $9, $10)
	`, item.ID, item.ClientID, item.Email, item.TokenHash, item.AccessType, item.AccessLevel, item.Status, string(encoded), item.TokenExpires, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert authorized client: %w", err)
	}
	return nil
}

func (s *PostgresStore) AuthorizedClientByTokenHash(ctx context.Context, tokenHash string) (AuthorizedClient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+authorizedClientColumns+`
		FROM authorized_clients
		WHERE token_hash=$1
	`, tokenHash)
	item, err := scanAuthorizedClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AuthorizedClient{}, ErrNotFound
	}
	if err != nil {
		return AuthorizedClient{}, fmt.Errorf("authorized client by token: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) AuthorizedClientByEmail(ctx context.Context, clientID, email string) (AuthorizedClient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+authorizedClientColumns+`
		FROM authorized_clients
		WHERE client_id=$1 AND email=LOWER($2)
		ORDER BY created_at DESC
		LIMIT 1
	`, clientID, email)
	item, err := scanAuthorizedClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AuthorizedClient{}, ErrNotFound
	}
	if err != nil {
		return AuthorizedClient{}, fmt.Errorf("authorized client by email: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetAuthorizedClient(ctx context.Context, id string) (AuthorizedClient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+authorizedClientColumns+`
		FROM authorized_clients
		WHERE id=$1
	`, id)
	item, err := scanAuthorizedClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AuthorizedClient{}, ErrNotFound
	}
	if err != nil {
		return AuthorizedClient{}, fmt.Errorf("get authorized client: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListAuthorizedClients(ctx context.Context, clientID string) ([]AuthorizedClient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+authorizedClientColumns+`
		FROM authorized_clients
		WHERE client_id=$1
		ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list authorized clients: %w", err)
	}
	defer rows.Close()

	items := make([]AuthorizedClient, 0)
	for rows.Next() {
		item, err := scanAuthorizedClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorized client: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authorized clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateAuthorizedClientStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE authorized_clients SET status=$2 WHERE id=$1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update authorized client status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update authorized client status rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateAuthorizedClientAccess(ctx context.Context, id, accessType, accessLevel string, postIDs []string) error {
	if postIDs == nil {
		postIDs = []string{}
	}
	encoded, err := json.Marshal(postIDs)
	if err != nil {
		return fmt.Errorf("marshal post ids: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE authorized_clients
		SET access_type=$2, access_level=$3, post_ids=$4::jsonb
		WHERE id=$1
	`, id, accessType, accessLevel, string(encoded))
	if err != nil {
		return fmt.Errorf("update authorized client access: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update authorized client access rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAuthorizedPost adds a post to a Restricted grant's allowlist.
// Adding an already-listed post is a no-op.
func (s *PostgresStore) AppendAuthorizedPost(ctx context.Context, id, postID string) error {
	item, err := s.GetAuthorizedClient(ctx, id)
	if err != nil {
		return err
	}
	for _, existing := range item.PostIDs {
		if existing == postID {
			return nil
		}
	}
	return s.UpdateAuthorizedClientAccess(ctx, id, item.AccessType, item.AccessLevel, append(item.PostIDs, postID))
}

func (s *PostgresStore) TouchAuthorizedClientLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE authorized_clients SET last_login=NOW() WHERE id=$1
	`, id)
	if err != nil {
		return fmt.Errorf("touch authorized client login: %w", err)
	}
	return nil
}

// ActiveAuthorizedEmails returns the distinct emails of active grants for a
// client, used as the default client-approver list.
func (s *PostgresStore) ActiveAuthorizedEmails(ctx context.Context, clientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT email
		FROM authorized_clients
		WHERE client_id=$1 AND status='Active'
		ORDER BY email ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("active authorized emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan authorized email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authorized emails: %w", err)
	}
	return emails, nil
}

// ---------------------------------------------------------------------------
// Notifications

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_email, message, type, read, post_id, action_url)
		VALUES ($1, LOWER($2), $3, $4, FALSE, $5, $6)
	`, n.ID, n.UserEmail, n.Message, n.Type, n.PostID, n.ActionURL)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnreadNotifications(ctx context.Context, email string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_email, message, type, read, COALESCE(post_id, ''), COALESCE(action_url, ''), created_at
		FROM notifications
		WHERE user_email=LOWER($1) AND read=FALSE
		ORDER BY created_at DESC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("unread notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserEmail, &n.Message, &n.Type, &n.Read, &n.PostID, &n.ActionURL, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, email string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_email=LOWER($1) AND read=FALSE
	`, email).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkNotificationsReadForPost(ctx context.Context, email, postID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_email=LOWER($1) AND post_id=$2
	`, email, postID)
	if err != nil {
		return fmt.Errorf("mark notifications read for post: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_email=LOWER($1) AND read=FALSE
	`, email)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Post versions

func (s *PostgresStore) InsertPostVersion(ctx context.Context, v PostVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_versions (id, post_id, version_name, commit_hash, trigger_event, is_approved, post_status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.PostID, v.VersionName, v.CommitHash, v.Trigger, v.IsApproved, v.PostStatus, v.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert post version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPostVersions(ctx context.Context, postID string) ([]PostVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, version_name, commit_hash, trigger_event, is_approved, post_status, COALESCE(created_by, ''), created_at
		FROM post_versions
		WHERE post_id=$1
		ORDER BY created_at DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post versions: %w", err)
	}
	defer rows.Close()

	items := make([]PostVersion, 0)
	for rows.Next() {
		var v PostVersion
		if err := rows.Scan(&v.ID, &v.PostID, &v.VersionName, &v.CommitHash, &v.Trigger, &v.IsApproved, &v.PostStatus, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post versions: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------

// SplitEmails parses a comma- or semicolon-separated address list, trimming
// blanks.
func SplitEmails(raw string) []string {
	replaced := strings.ReplaceAll(raw, ";", ",")
	parts := strings.Split(replaced, ",")
	emails := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			emails = append(emails, trimmed)
		}
	}
	return emails
}
