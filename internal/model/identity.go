package model

// Role is the capability level of an authenticated caller.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller holds the administrative capability.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccess reports whether the caller may act on documents owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.UserID != "" && (i.UserID == ownerID || i.IsAdmin())
}
