package rbac

type Role string
type Action string

const (
	RoleGuest Role = "guest"
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionSaveProfile     Action = "save_profile"
	ActionCreateListing   Action = "create_listing"
	ActionSubmitRequest   Action = "submit_request"
	ActionAttachPhoto     Action = "attach_photo"
	ActionModerate        Action = "moderate"
	ActionReadModeration  Action = "read_moderation"
	ActionReadOwnRequests Action = "read_own_requests"
)

// Can reports whether role may perform action. Ownership of the target
// listing is checked separately by the caller.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOwner:
		return action == ActionRead || action == ActionSaveProfile || action == ActionCreateListing ||
			action == ActionSubmitRequest || action == ActionAttachPhoto || action == ActionReadOwnRequests
	case RoleGuest:
		return action == ActionRead || action == ActionSaveProfile
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin:
		return Role(role)
	default:
		return RoleGuest
	}
}

// Resolve maps a caller to exactly one role. Anonymous callers and callers
// without a saved profile are guests.
func Resolve(principal string, profileRole string, hasProfile bool) Role {
	if principal == "" || !hasProfile {
		return RoleGuest
	}
	return Normalize(profileRole)
}
