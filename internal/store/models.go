package store

import "time"

// Post lifecycle statuses. The workflow engine only ever writes Draft,
// Internal_Review, Client_Review, Approved and Cancelled; Scheduled and
// Published are set by the publishing surface.
const (
	StatusDraft          = "Draft"
	StatusInternalReview = "Internal_Review"
	StatusClientReview   = "Client_Review"
	StatusApproved       = "Approved"
	StatusCancelled      = "Cancelled"
	StatusScheduled      = "Scheduled"
	StatusPublished      = "Published"
)

// Approval stages. Legacy rows may carry the post-status synonyms
// (Internal_Review, Client_Review); queries must treat them as equivalent.
const (
	StageInternal = "Internal"
	StageClient   = "Client"
)

// Approval record statuses.
const (
	ApprovalPending          = "Pending"
	ApprovalApproved         = "Approved"
	ApprovalChangesRequested = "Changes_Requested"
	ApprovalRejected         = "Rejected"
)

type User struct {
	ID           string
	FullName     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Client struct {
	ID                      string
	Name                    string
	InternalApproverEmails  string
	ClientApproverEmails    string
	CreatedAt               time.Time
}

// ClientDefaults are the fallback approver lists used when a post carries no
// explicit approver override.
type ClientDefaults struct {
	InternalApproverEmails []string
	ClientApproverEmails   []string
}

type Post struct {
	ID                string
	ClientID          string
	Title             string
	Copy              string
	Hashtags          string
	Notes             string
	Status            string
	ScheduledDate     *time.Time
	PublishedDate     *time.Time
	InternalApprovers string
	ClientApprovers   string
	CreatedBy         string
	CreatedAt         time.Time
	ModifiedBy        string
	ModifiedAt        time.Time
}

// ApprovalRecord keeps the invited identity and the deciding identity as
// separate facts: a distribution alias may be invited while a named person
// decides.
type ApprovalRecord struct {
	ID            string
	PostID        string
	Stage         string
	InvitedEmail  string
	InvitedName   string
	DecidedBy     string
	Status        string
	DecisionDate  *time.Time
	DecisionNotes string
	EmailSentDate *time.Time
	CreatedDate   time.Time
}

// Decided reports whether the record has left Pending.
func (r ApprovalRecord) Decided() bool {
	return r.Status != ApprovalPending && r.Status != ""
}

// Portal access types: Full grantees see all of a client's posts, Restricted
// grantees see an explicit allowlist plus anything that reached client review.
const (
	AccessTypeFull       = "Full"
	AccessTypeRestricted = "Restricted"
)

// Portal access levels.
const (
	AccessLevelAdmin    = "Admin"
	AccessLevelFull     = "Full"
	AccessLevelReadOnly = "Read_Only"
)

type AuthorizedClient struct {
	ID           string
	ClientID     string
	Email        string
	TokenHash    string
	AccessType   string
	AccessLevel  string
	Status       string
	PostIDs      []string
	TokenExpires *time.Time
	LastLogin    *time.Time
	CreatedBy    string
	CreatedAt    time.Time
}

// Active reports whether the grant is usable right now.
func (a AuthorizedClient) Active(now time.Time) bool {
	if a.Status != "Active" {
		return false
	}
	if a.TokenExpires != nil && a.TokenExpires.Before(now) {
		return false
	}
	return true
}

// In-app notification types.
const (
	NotificationApprovalRequest  = "approval_request"
	NotificationApprovalDecision = "approval_decision"
	NotificationStatusChange     = "status_change"
)

type Notification struct {
	ID        string
	UserEmail string
	Message   string
	Type      string
	Read      bool
	PostID    string
	ActionURL string
	CreatedAt time.Time
}

// PostVersion is the durable ledger entry for a content snapshot; the actual
// content lives in the snapshot repository under CommitHash.
type PostVersion struct {
	ID          string
	PostID      string
	VersionName string
	CommitHash  string
	Trigger     string
	IsApproved  bool
	PostStatus  string
	CreatedBy   string
	CreatedAt   time.Time
}
