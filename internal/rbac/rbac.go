package rbac

type Role string
type Permission string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
)

// Access is the effective role of a user on one project.
type Access struct {
	Role     Role `json:"role"`
	CanWrite bool `json:"canWrite"`
}

// Evaluate resolves the effective role. Ownership short-circuits the
// collaborator lookup; collabRole is empty when the user is not a collaborator.
func Evaluate(ownerID, userID string, collabRole Role) Access {
	if ownerID != "" && ownerID == userID {
		return Access{Role: RoleOwner, CanWrite: true}
	}
	switch collabRole {
	case RoleEditor:
		return Access{Role: RoleEditor, CanWrite: true}
	case RoleViewer:
		return Access{Role: RoleViewer, CanWrite: false}
	default:
		return Access{Role: RoleNone, CanWrite: false}
	}
}

func Can(role Role, perm Permission) bool {
	switch role {
	case RoleOwner, RoleEditor:
		return perm == PermRead || perm == PermWrite
	case RoleViewer:
		return perm == PermRead
	default:
		return false
	}
}

// ParseCollaboratorRole accepts only roles that can be granted to a collaborator.
func ParseCollaboratorRole(role string) (Role, bool) {
	switch Role(role) {
	case RoleEditor, RoleViewer:
		return Role(role), true
	default:
		return "", false
	}
}

func CanEditComment(authorID, userID string) bool {
	return authorID != "" && authorID == userID
}

func CanDeleteComment(authorID, userID string, role Role) bool {
	return CanEditComment(authorID, userID) || role == RoleOwner
}
