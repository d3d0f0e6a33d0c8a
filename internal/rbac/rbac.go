package rbac

type Role string
type Action string

const (
	RoleAnonymous Role = ""
	RoleUser      Role = "ROLE_USER"
	RoleAdmin     Role = "ROLE_ADMIN"
)

const (
	ActionRead     Action = "read"
	ActionLike     Action = "like"
	ActionComment  Action = "comment"
	ActionPublish  Action = "publish"
	ActionModerate Action = "moderate"
	ActionUpload   Action = "upload"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionLike || action == ActionComment
	case RoleAnonymous:
		return action == ActionRead
	default:
		return false
	}
}

// CanAny reports whether any of the granted roles allows action. Unknown role
// names grant nothing beyond anonymous access.
func CanAny(roles []string, action Action) bool {
	if Can(RoleAnonymous, action) {
		return true
	}
	for _, role := range roles {
		if Can(Normalize(role), action) {
			return true
		}
	}
	return false
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleAnonymous
	}
}
