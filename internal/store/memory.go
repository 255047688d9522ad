package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/example/taskauth/internal/auth"
)

// MemDB keeps everything in process memory. Useful for tests and local
// runs; nothing survives a restart.
type MemDB struct {
	mu        sync.RWMutex
	users     map[int64]*auth.User
	blacklist map[string]auth.BlacklistEntry
	sessions  map[string]*auth.SessionAudit
	seq       int64
}

var _ auth.Store = (*MemDB)(nil)

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:     map[int64]*auth.User{},
		blacklist: map[string]auth.BlacklistEntry{},
		sessions:  map[string]*auth.SessionAudit{},
	}
}

func (m *MemDB) FindUserByUsernameOrEmail(_ context.Context, username, email string) (*auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username || strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) FindUserByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) InsertUser(_ context.Context, u *auth.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return 0, auth.ErrDuplicate
		}
	}
	m.seq++
	cp := *u
	cp.ID = m.seq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	m.users[cp.ID] = &cp
	return cp.ID, nil
}

func (m *MemDB) SetUserActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsActive = active
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemDB) InsertBlacklistEntry(_ context.Context, tokenID string, expiresAt int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blacklist[tokenID]; ok {
		return nil
	}
	m.blacklist[tokenID] = auth.BlacklistEntry{
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *MemDB) IsBlacklisted(_ context.Context, tokenID string, now int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.blacklist[tokenID]
	return ok && e.ExpiresAt > now, nil
}

func (m *MemDB) PurgeExpiredBlacklist(_ context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.blacklist {
		if e.ExpiresAt <= now {
			delete(m.blacklist, id)
			n++
		}
	}
	return n, nil
}

func (m *MemDB) InsertSessionAudit(_ context.Context, s *auth.SessionAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Fingerprint] = &cp
	return nil
}

func (m *MemDB) MarkSessionInactive(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[fingerprint]; ok {
		s.Active = false
	}
	return nil
}

// Session returns a copy of the audit row for fingerprint.
func (m *MemDB) Session(fingerprint string) (auth.SessionAudit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[fingerprint]
	if !ok {
		return auth.SessionAudit{}, false
	}
	return *s, true
}

// BlacklistLen returns the number of stored entries, expired or not.
func (m *MemDB) BlacklistLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blacklist)
}

func (m *MemDB) Ping(context.Context) error { return nil }
func (m *MemDB) Close() error               { return nil }
