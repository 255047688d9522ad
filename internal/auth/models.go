package auth

import (
	"strconv"
	"time"
)

// Role is the user's global role.
type Role = string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleUser
}

// User represents a user in the system
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	Email        string
	FullName     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the user view returned to clients; it never carries the
// password hash.
type PublicUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName,omitempty"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sanitize drops the password hash.
func (u *User) Sanitize() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// BlacklistEntry is a revoked token identifier. It stops mattering once
// ExpiresAt (unix seconds) is in the past.
type BlacklistEntry struct {
	TokenID   string
	ExpiresAt int64
	Reason    string
	CreatedAt time.Time
}

// SessionAudit records a login or registration. It is never consulted for
// authorization.
type SessionAudit struct {
	ID          int64
	UserID      int64
	Fingerprint string
	ExpiresAt   int64
	ClientIP    string
	UserAgent   string
	Active      bool
	CreatedAt   time.Time
}

// ClientInfo describes the caller for session audit rows.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Blacklist reasons.
const (
	ReasonLogout  = "logout"
	ReasonRevoked = "revoked"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
