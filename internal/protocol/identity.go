package protocol

import "strings"

// Role is the coarse permission level attached to an identity.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// ParseRole normalizes a role claim. Upstream services call moderators
// "supervisor" or "admin" and participants "student".
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "moderator", "supervisor", "admin", "host":
		return RoleModerator, true
	case "participant", "student":
		return RoleParticipant, true
	}
	return "", false
}

// Identity is the verified principal behind one connection.
type Identity struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	ProfileID string `json:"profileId,omitempty"`
}

// IsModerator reports whether the identity may perform host actions.
func (i Identity) IsModerator() bool {
	return i.Role == RoleModerator
}
