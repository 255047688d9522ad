package auth

import (
	"context"
	"errors"
)

// ErrDuplicate is returned by Store.InsertUser when the username or email
// is already taken.
var ErrDuplicate = errors.New("duplicate record")

// Users holds user records. Lookups that find nothing return (nil, nil).
type Users interface {
	FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	InsertUser(ctx context.Context, u *User) (int64, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
}

// Blacklist holds revoked token identifiers. Inserting the same identifier
// twice must succeed and leave a single effective entry.
type Blacklist interface {
	InsertBlacklistEntry(ctx context.Context, tokenID string, expiresAt int64, reason string) error
	IsBlacklisted(ctx context.Context, tokenID string, now int64) (bool, error)
	PurgeExpiredBlacklist(ctx context.Context, now int64) (int64, error)
}

// SessionAuditor records best-effort session audit rows.
type SessionAuditor interface {
	InsertSessionAudit(ctx context.Context, s *SessionAudit) error
	MarkSessionInactive(ctx context.Context, fingerprint string) error
}

// Store is the credential store consumed by the session manager.
type Store interface {
	Users
	Blacklist
	SessionAuditor
	Ping(ctx context.Context) error
	Close() error
}
