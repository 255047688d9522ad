package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/example/taskauth/internal/auth"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteDB is the default credential store.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

var _ auth.Store = (*SQLiteDB)(nil)

// NewSQLiteDB opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway database.
func NewSQLiteDB(path string, logger *slog.Logger) (*SQLiteDB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" to a single database.
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		d.Close()
		return nil, err
	}
	if err := ApplyMigrations("sqlite", d, logger); err != nil {
		d.Close()
		return nil, err
	}
	return &SQLiteDB{db: d, path: path}, nil
}

const sqliteUserColumns = `id,username,email,password_hash,full_name,role,is_active,created_at,updated_at`

func (s *SQLiteDB) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE username = ? OR email = ? LIMIT 1`, username, email)
	return scanSQLiteUser(row)
}

func (s *SQLiteDB) FindUserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
	return scanSQLiteUser(row)
}

func scanSQLiteUser(row *sql.Row) (*auth.User, error) {
	var (
		u                auth.User
		active           int
		created, updated string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &active, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.IsActive = active != 0
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

func (s *SQLiteDB) InsertUser(ctx context.Context, u *auth.User) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username,email,password_hash,full_name,role,is_active,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		u.Username, u.Email, u.PasswordHash, u.FullName, u.Role, boolInt(u.IsActive),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		if isSQLiteUnique(err) {
			return 0, auth.ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteDB) SetUserActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), formatTime(time.Now()), id)
	return err
}

func (s *SQLiteDB) InsertBlacklistEntry(ctx context.Context, tokenID string, expiresAt int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO token_blacklist(token_id,expires_at,reason,created_at) VALUES(?,?,?,?)`,
		tokenID, expiresAt, reason, formatTime(time.Now()))
	return err
}

func (s *SQLiteDB) IsBlacklisted(ctx context.Context, tokenID string, now int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM token_blacklist WHERE token_id = ? AND expires_at > ?`, tokenID, now).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteDB) PurgeExpiredBlacklist(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteDB) InsertSessionAudit(ctx context.Context, a *auth.SessionAudit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions(user_id,token_fingerprint,expires_at,client_ip,user_agent,is_active,created_at) VALUES(?,?,?,?,?,?,?)`,
		a.UserID, a.Fingerprint, a.ExpiresAt, a.ClientIP, a.UserAgent, boolInt(a.Active), formatTime(a.CreatedAt))
	return err
}

func (s *SQLiteDB) MarkSessionInactive(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_sessions SET is_active = 0 WHERE token_fingerprint = ?`, fingerprint)
	return err
}

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteDB) Close() error                   { return s.db.Close() }

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
