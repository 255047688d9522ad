package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/example/taskauth/internal/auth"
	"github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

var _ auth.Store = (*PostgresDB)(nil)

// NewPostgresDB connects to dsn and applies pending migrations.
func NewPostgresDB(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := d.PingContext(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := ApplyMigrations("postgres", d, logger); err != nil {
		d.Close()
		return nil, err
	}
	return &PostgresDB{db: d, dsn: dsn}, nil
}

// NewPostgresFromDB wraps an open handle without migrating it.
func NewPostgresFromDB(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

const pgUserColumns = `id,username,email,password_hash,full_name,role,is_active,created_at,updated_at`

func (p *PostgresDB) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*auth.User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+pgUserColumns+` FROM users WHERE username = $1 OR email = $2 LIMIT 1`, username, email)
	return scanPgUser(row)
}

func (p *PostgresDB) FindUserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
	return scanPgUser(row)
}

func scanPgUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) InsertUser(ctx context.Context, u *auth.User) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(username,email,password_hash,full_name,role,is_active,created_at,updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.FullName, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, auth.ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (p *PostgresDB) SetUserActive(ctx context.Context, id int64, active bool) error {
	_, err := p.db.ExecContext(ctx, `UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2`, active, id)
	return err
}

func (p *PostgresDB) InsertBlacklistEntry(ctx context.Context, tokenID string, expiresAt int64, reason string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO token_blacklist(token_id,expires_at,reason,created_at) VALUES($1,$2,$3,now())
		 ON CONFLICT (token_id) DO NOTHING`, tokenID, expiresAt, reason)
	return err
}

func (p *PostgresDB) IsBlacklisted(ctx context.Context, tokenID string, now int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM token_blacklist WHERE token_id = $1 AND expires_at > $2)`, tokenID, now).Scan(&exists)
	return exists, err
}

func (p *PostgresDB) PurgeExpiredBlacklist(ctx context.Context, now int64) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresDB) InsertSessionAudit(ctx context.Context, a *auth.SessionAudit) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO user_sessions(user_id,token_fingerprint,expires_at,client_ip,user_agent,is_active,created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		a.UserID, a.Fingerprint, a.ExpiresAt, a.ClientIP, a.UserAgent, a.Active, a.CreatedAt)
	return err
}

func (p *PostgresDB) MarkSessionInactive(ctx context.Context, fingerprint string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE user_sessions SET is_active = false WHERE token_fingerprint = $1`, fingerprint)
	return err
}

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresDB) Close() error                   { return p.db.Close() }
