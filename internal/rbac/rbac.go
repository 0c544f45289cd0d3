package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RolePlanner Role = "planner"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionSchedule Action = "schedule"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePlanner:
		return action == ActionRead || action == ActionWrite || action == ActionSchedule
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RolePlanner, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
