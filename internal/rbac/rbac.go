package rbac

import "linguist/api/internal/store"

type Role string
type Action string

const (
	RoleGuest        Role = "guest"
	RoleLearner      Role = "learner"
	RoleCollaborator Role = "collaborator"
	RoleOwner        Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionEnroll  Action = "enroll"
	ActionSuggest Action = "suggest"
	ActionReview  Action = "review"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleCollaborator:
		return action == ActionRead || action == ActionEnroll || action == ActionSuggest
	case RoleLearner:
		return action == ActionRead || action == ActionEnroll
	case RoleGuest:
		return action == ActionRead
	default:
		return false
	}
}

// CourseRole resolves a user's role on a course. An empty userID is a guest;
// activeCollaborator is only consulted for non-owners.
func CourseRole(course store.Course, userID string, activeCollaborator bool) Role {
	switch {
	case userID == "":
		return RoleGuest
	case course.OwnerID == userID:
		return RoleOwner
	case activeCollaborator:
		return RoleCollaborator
	default:
		return RoleLearner
	}
}

// CanView reports whether a role may see the course at all. Drafts and
// private courses are visible to the owner and active collaborators only.
func CanView(course store.Course, role Role) bool {
	if role == RoleOwner || role == RoleCollaborator {
		return true
	}
	return course.IsPublic && course.IsPublished
}
