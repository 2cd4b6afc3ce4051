package workflow

import "errors"

// Sentinel errors for the workflow operations. Callers match with errors.Is
// and map to their own transport-level payloads.
var (
	ErrNotFound                   = errors.New("not found")
	ErrNoApprovers                = errors.New("no approvers configured")
	ErrIncompleteInternalApproval = errors.New("internal approvals incomplete")
	ErrAlreadyDecided             = errors.New("approval already decided")
	ErrInvalidDecision            = errors.New("invalid decision")
	ErrInvalidStage               = errors.New("invalid stage")
)
