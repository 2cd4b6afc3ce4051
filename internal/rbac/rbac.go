package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "Viewer"
	RoleCreator Role = "Creator"
	RoleEditor  Role = "Editor"
	RoleAdmin   Role = "Admin"
)

const (
	ActionRead         Action = "read"
	ActionCreate       Action = "create"
	ActionSubmitReview Action = "submit_review"
	ActionApprove      Action = "approve"
	ActionManageAccess Action = "manage_access"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionCreate || action == ActionSubmitReview || action == ActionApprove
	case RoleCreator:
		return action == ActionRead || action == ActionCreate || action == ActionSubmitReview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCreator, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
