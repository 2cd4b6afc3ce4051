package workflow

import (
	"planner/api/internal/store"
)

// Outcome is the result of reducing a post's approval sets. Changed=false
// means the post keeps its current status.
type Outcome struct {
	Status  string
	Changed bool
}

// NormalizeStage maps the stored stage-name synonyms onto the canonical
// stage values. Unknown stages come back empty.
func NormalizeStage(stage string) string {
	switch stage {
	case store.StageInternal, store.StatusInternalReview:
		return store.StageInternal
	case store.StageClient, store.StatusClientReview:
		return store.StageClient
	default:
		return ""
	}
}

// Reduce derives the post status from the full approval sets of both
// stages. It is a pure function: the same sets always produce the same
// outcome, so re-running it after a race is harmless.
//
// Priority, first match wins:
//  1. any rejection in either stage cancels the post
//  2. a client change request sends the post back to Draft
//  3. an internal change request sends the post back to Draft
//  4. any single client approval finalizes the post (client reviewers are
//     interchangeable final authorities)
//  5. full internal approval with no client records yet leaves the status
//     alone; advancing to client review is an explicit operation
//  6. otherwise approvals are still pending, no change
func Reduce(internalSet, clientSet []store.ApprovalRecord) Outcome {
	if anyWithStatus(internalSet, store.ApprovalRejected) || anyWithStatus(clientSet, store.ApprovalRejected) {
		return Outcome{Status: store.StatusCancelled, Changed: true}
	}
	if anyWithStatus(clientSet, store.ApprovalChangesRequested) {
		return Outcome{Status: store.StatusDraft, Changed: true}
	}
	if anyWithStatus(internalSet, store.ApprovalChangesRequested) {
		return Outcome{Status: store.StatusDraft, Changed: true}
	}
	if anyWithStatus(clientSet, store.ApprovalApproved) {
		return Outcome{Status: store.StatusApproved, Changed: true}
	}
	return Outcome{}
}

// AllApproved reports whether the set is non-empty and every record is
// Approved. Used to gate client-review submission and to surface the
// ready-for-client-review hint after an internal decision.
func AllApproved(set []store.ApprovalRecord) bool {
	if len(set) == 0 {
		return false
	}
	for _, record := range set {
		if record.Status != store.ApprovalApproved {
			return false
		}
	}
	return true
}

func anyWithStatus(set []store.ApprovalRecord, status string) bool {
	for _, record := range set {
		if record.Status == status {
			return true
		}
	}
	return false
}
