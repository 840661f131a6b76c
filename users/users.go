package users

import "strings"

// RoleType is the role the backend assigns to a user.
type RoleType string

const (
	RoleAdmin RoleType = "admin" // Full access to the admin dashboard
	RoleUser  RoleType = "user"  // Regular user
)

// ParseRole normalises a backend role string. Anything unknown is a regular user.
func ParseRole(s string) RoleType {
	switch RoleType(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// User is the identity returned by GET /api/auth/me. It is never built locally
// from token claims.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     RoleType `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
