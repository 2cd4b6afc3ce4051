package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"planner/api/internal/store"
	"planner/api/internal/util"
)

// Next-action hints returned by SubmitDecision so a caller can tell the
// operator what the decision changed.
const (
	ActionReturnedToDraft      = "returned_to_draft"
	ActionCancelled            = "cancelled"
	ActionFullyApproved        = "fully_approved"
	ActionReadyForClientReview = "ready_for_client_review"
	ActionWaiting              = "waiting"
)

// Snapshot triggers recorded against captured post versions.
const (
	TriggerReturnedToDraft = "Returned_To_Draft"
	TriggerFullyApproved   = "Fully_Approved"
)

type dataStore interface {
	GetPost(ctx context.Context, postID string) (store.Post, error)
	SetPostStatus(ctx context.Context, postID, status, modifiedBy string) error
	GetClientDefaults(ctx context.Context, clientID string) (store.ClientDefaults, error)
	CreateApprovals(ctx context.Context, postID, stage string, invitees []store.Invitee) ([]store.ApprovalRecord, error)
	ApprovalsByPost(ctx context.Context, postID, stage string) ([]store.ApprovalRecord, error)
	GetApproval(ctx context.Context, approvalID string) (store.ApprovalRecord, error)
	RecordDecision(ctx context.Context, approvalID, status, notes, decidedBy string) error
	PendingApprovalsForUser(ctx context.Context, email string) ([]store.ApprovalRecord, error)
	ApprovalHistory(ctx context.Context, postID string) ([]store.ApprovalRecord, error)
}

// Notifier delivers approval requests and decision notices. Implementations
// must tolerate being called after the state transition has committed;
// errors are logged by the engine, never surfaced.
type Notifier interface {
	ApprovalRequested(ctx context.Context, approverEmail string, post store.Post, stage string) error
	DecisionRecorded(ctx context.Context, post store.Post, record store.ApprovalRecord) error
}

// AccessGranter provisions client-portal access for client-stage approvers.
type AccessGranter interface {
	GrantPostAccess(ctx context.Context, clientID, email, postID, grantedBy string) error
}

// Snapshotter captures an immutable copy of the post content when the
// workflow reaches a milestone.
type Snapshotter interface {
	CapturePostVersion(ctx context.Context, post store.Post, trigger string, isApproved bool, actor string) error
}

type SubmitResult struct {
	Status        string
	ApproverCount int
}

type DecisionResult struct {
	Status     string
	NextAction string
}

// Engine owns every post status transition. Nothing else writes the
// status field.
type Engine struct {
	store    dataStore
	notifier Notifier
	access   AccessGranter
	snaps    Snapshotter
}

func NewEngine(dataStore *store.PostgresStore, notifier Notifier, access AccessGranter, snaps Snapshotter) *Engine {
	return &Engine{
		store:    dataStore,
		notifier: notifier,
		access:   access,
		snaps:    snaps,
	}
}

// SubmitForInternalReview resolves the internal approver list, moves the
// post to Internal_Review and fans out one pending approval per approver.
func (e *Engine) SubmitForInternalReview(ctx context.Context, postID, actor string) (SubmitResult, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return SubmitResult{}, postLookupError(postID, err)
	}

	emails, err := e.resolveApprovers(ctx, post, store.StageInternal)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := e.store.SetPostStatus(ctx, postID, store.StatusInternalReview, actor); err != nil {
		return SubmitResult{}, err
	}
	records, err := e.createApprovals(ctx, postID, store.StageInternal, emails)
	if err != nil {
		return SubmitResult{}, err
	}

	post.Status = store.StatusInternalReview
	e.runHooks("internal review request", e.requestHooks(ctx, post, store.StageInternal, records, false))

	return SubmitResult{Status: store.StatusInternalReview, ApproverCount: len(records)}, nil
}

// SubmitForClientReview moves the post to Client_Review and invites the
// client approvers. The internal-completeness check applies only once the
// post has advanced past Draft/Internal_Review; before that an operator may
// push to client review with internal sign-off still open. skipInternalCheck
// waives the check entirely.
func (e *Engine) SubmitForClientReview(ctx context.Context, postID string, skipInternalCheck bool, actor string) (SubmitResult, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return SubmitResult{}, postLookupError(postID, err)
	}

	if !skipInternalCheck && post.Status != store.StatusDraft && post.Status != store.StatusInternalReview {
		internalSet, err := e.store.ApprovalsByPost(ctx, postID, store.StageInternal)
		if err != nil {
			return SubmitResult{}, err
		}
		if len(internalSet) > 0 && !AllApproved(internalSet) {
			return SubmitResult{}, ErrIncompleteInternalApproval
		}
	}

	emails, err := e.resolveApprovers(ctx, post, store.StageClient)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := e.store.SetPostStatus(ctx, postID, store.StatusClientReview, actor); err != nil {
		return SubmitResult{}, err
	}
	records, err := e.createApprovals(ctx, postID, store.StageClient, emails)
	if err != nil {
		return SubmitResult{}, err
	}

	post.Status = store.StatusClientReview
	e.runHooks("client review request", e.requestHooks(ctx, post, store.StageClient, records, true))

	return SubmitResult{Status: store.StatusClientReview, ApproverCount: len(records)}, nil
}

// RecordDecision records an approver's decision and recomputes the post
// status from the full approval sets. deciderEmail names who actually
// decided when it differs from the invited identity.
func (e *Engine) RecordDecision(ctx context.Context, approvalID, decision, notes, deciderEmail string) (DecisionResult, error) {
	return e.decide(ctx, approvalID, decision, notes, deciderEmail, false)
}

// SubmitDecision is the operator-facing variant of RecordDecision; the
// transition logic is identical, only the next-action hint in the result is
// of interest to the caller.
func (e *Engine) SubmitDecision(ctx context.Context, approvalID, decision, comments, deciderEmail string) (DecisionResult, error) {
	return e.decide(ctx, approvalID, decision, comments, deciderEmail, false)
}

// AmendDecision overwrites an already-terminal decision as an audited
// correction. The previous decision is preserved in the notes trail.
func (e *Engine) AmendDecision(ctx context.Context, approvalID, decision, notes, deciderEmail string) (DecisionResult, error) {
	return e.decide(ctx, approvalID, decision, notes, deciderEmail, true)
}

func (e *Engine) decide(ctx context.Context, approvalID, decision, notes, deciderEmail string, amend bool) (DecisionResult, error) {
	if !validDecision(decision) {
		return DecisionResult{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	record, err := e.store.GetApproval(ctx, approvalID)
	if err != nil {
		if err == store.ErrNotFound {
			return DecisionResult{}, fmt.Errorf("%w: approval %s", ErrNotFound, approvalID)
		}
		return DecisionResult{}, err
	}
	if record.Decided() && !amend {
		return DecisionResult{}, fmt.Errorf("%w: approval %s is %s", ErrAlreadyDecided, approvalID, record.Status)
	}
	if amend {
		prior := fmt.Sprintf("[amended: was %s by %s]", record.Status, firstNonBlank(record.DecidedBy, record.InvitedEmail))
		notes = strings.TrimSpace(prior + " " + notes)
	}

	if err := e.store.RecordDecision(ctx, approvalID, decision, notes, deciderEmail); err != nil {
		return DecisionResult{}, err
	}

	post, err := e.store.GetPost(ctx, record.PostID)
	if err != nil {
		return DecisionResult{}, postLookupError(record.PostID, err)
	}

	outcome, internalSet, err := e.reduceAndApply(ctx, post, firstNonBlank(deciderEmail, record.InvitedEmail))
	if err != nil {
		return DecisionResult{}, err
	}

	result := DecisionResult{Status: post.Status, NextAction: ActionWaiting}
	if outcome.Changed {
		result.Status = outcome.Status
	}
	switch {
	case outcome.Changed && outcome.Status == store.StatusDraft:
		result.NextAction = ActionReturnedToDraft
	case outcome.Changed && outcome.Status == store.StatusCancelled:
		result.NextAction = ActionCancelled
	case outcome.Changed && outcome.Status == store.StatusApproved:
		result.NextAction = ActionFullyApproved
	case NormalizeStage(record.Stage) == store.StageInternal && AllApproved(internalSet):
		result.NextAction = ActionReadyForClientReview
	}

	decided := record
	decided.Status = decision
	decided.DecisionNotes = notes
	decided.DecidedBy = firstNonBlank(deciderEmail, record.InvitedEmail)
	e.runHooks("decision", e.decisionHooks(ctx, post, decided, outcome))

	return result, nil
}

// reduceAndApply runs the reducer over both approval sets and persists the
// status only when it actually changes. It also returns the internal set so
// the caller can derive the ready-for-client-review hint without a second
// query.
func (e *Engine) reduceAndApply(ctx context.Context, post store.Post, actor string) (Outcome, []store.ApprovalRecord, error) {
	internalSet, err := e.store.ApprovalsByPost(ctx, post.ID, store.StageInternal)
	if err != nil {
		return Outcome{}, nil, err
	}
	clientSet, err := e.store.ApprovalsByPost(ctx, post.ID, store.StageClient)
	if err != nil {
		return Outcome{}, nil, err
	}

	outcome := Reduce(internalSet, clientSet)
	if !outcome.Changed || outcome.Status == post.Status {
		if outcome.Status == post.Status {
			outcome.Changed = false
		}
		return outcome, internalSet, nil
	}
	if err := e.store.SetPostStatus(ctx, post.ID, outcome.Status, actor); err != nil {
		return Outcome{}, nil, err
	}
	return outcome, internalSet, nil
}

func (e *Engine) PendingApprovalsForUser(ctx context.Context, email string) ([]store.ApprovalRecord, error) {
	return e.store.PendingApprovalsForUser(ctx, email)
}

func (e *Engine) ApprovalHistory(ctx context.Context, postID string) ([]store.ApprovalRecord, error) {
	if _, err := e.store.GetPost(ctx, postID); err != nil {
		return nil, postLookupError(postID, err)
	}
	return e.store.ApprovalHistory(ctx, postID)
}

// resolveApprovers picks the post-level override list for the stage, else
// the client defaults.
func (e *Engine) resolveApprovers(ctx context.Context, post store.Post, stage string) ([]string, error) {
	var override string
	if stage == store.StageInternal {
		override = post.InternalApprovers
	} else {
		override = post.ClientApprovers
	}
	emails := store.SplitEmails(override)
	if len(emails) > 0 {
		return emails, nil
	}

	defaults, err := e.store.GetClientDefaults(ctx, post.ClientID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: client %s", ErrNotFound, post.ClientID)
		}
		return nil, err
	}
	if stage == store.StageInternal {
		emails = defaults.InternalApproverEmails
	} else {
		emails = defaults.ClientApproverEmails
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: no %s approvers for post %s", ErrNoApprovers, strings.ToLower(stage), post.ID)
	}
	return emails, nil
}

func (e *Engine) createApprovals(ctx context.Context, postID, stage string, emails []string) ([]store.ApprovalRecord, error) {
	invitees := make([]store.Invitee, 0, len(emails))
	for _, email := range emails {
		invitees = append(invitees, store.Invitee{
			ID:    util.NewID("apr"),
			Email: email,
		})
	}
	return e.store.CreateApprovals(ctx, postID, stage, invitees)
}

type hook struct {
	name string
	run  func() error
}

// requestHooks builds the post-commit side effects for a review submission:
// portal access grants for client approvers, then request notifications.
func (e *Engine) requestHooks(ctx context.Context, post store.Post, stage string, records []store.ApprovalRecord, grantAccess bool) []hook {
	hooks := make([]hook, 0, len(records)*2)
	for _, record := range records {
		record := record
		if grantAccess && e.access != nil {
			hooks = append(hooks, hook{
				name: "grant portal access to " + record.InvitedEmail,
				run: func() error {
					return e.access.GrantPostAccess(ctx, post.ClientID, record.InvitedEmail, post.ID, post.ModifiedBy)
				},
			})
		}
		if e.notifier != nil {
			hooks = append(hooks, hook{
				name: "notify " + record.InvitedEmail,
				run: func() error {
					return e.notifier.ApprovalRequested(ctx, record.InvitedEmail, post, stage)
				},
			})
		}
	}
	return hooks
}

// decisionHooks builds the post-commit side effects for a recorded
// decision: notify the post creator, and snapshot the post content when the
// reduction reached a milestone.
func (e *Engine) decisionHooks(ctx context.Context, post store.Post, record store.ApprovalRecord, outcome Outcome) []hook {
	hooks := make([]hook, 0, 2)
	if e.notifier != nil {
		hooks = append(hooks, hook{
			name: "notify creator " + post.CreatedBy,
			run: func() error {
				return e.notifier.DecisionRecorded(ctx, post, record)
			},
		})
	}
	if e.snaps != nil && outcome.Changed {
		switch outcome.Status {
		case store.StatusDraft:
			hooks = append(hooks, hook{
				name: "snapshot returned-to-draft version",
				run: func() error {
					return e.snaps.CapturePostVersion(ctx, post, TriggerReturnedToDraft, false, record.DecidedBy)
				},
			})
		case store.StatusApproved:
			hooks = append(hooks, hook{
				name: "snapshot approved version",
				run: func() error {
					return e.snaps.CapturePostVersion(ctx, post, TriggerFullyApproved, true, record.DecidedBy)
				},
			})
		}
	}
	return hooks
}

// runHooks executes side effects after the state transition has committed.
// Failures are logged and swallowed: workflow correctness never depends on
// a notification or access grant succeeding.
func (e *Engine) runHooks(label string, hooks []hook) {
	for _, h := range hooks {
		if err := h.run(); err != nil {
			log.Printf("workflow: %s hook %q failed: %v", label, h.name, err)
		}
	}
}

func validDecision(decision string) bool {
	switch decision {
	case store.ApprovalApproved, store.ApprovalChangesRequested, store.ApprovalRejected:
		return true
	}
	return false
}

func postLookupError(postID string, err error) error {
	if err == store.ErrNotFound {
		return fmt.Errorf("%w: post %s", ErrNotFound, postID)
	}
	return err
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
