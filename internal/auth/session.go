package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const tracerName = "github.com/example/taskauth/internal/auth"

// Manager runs the session lifecycle: register, login, refresh, logout,
// revoke and access verification. It holds no mutable state of its own.
type Manager struct {
	store      Store
	codec      *Codec
	logger     *slog.Logger
	tracer     trace.Tracer
	bcryptCost int

	// dummyHash stands in for the stored hash when the login identifier
	// matches no user.
	dummyHash string
	compare   func(hash, password string) (bool, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBcryptCost sets the password hash work factor. Values below
// MinBcryptCost are raised to it.
func WithBcryptCost(cost int) Option {
	return func(m *Manager) {
		m.bcryptCost = cost
	}
}

// WithTracerProvider sets the provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewManager returns a Manager over store and codec.
func NewManager(store Store, codec *Codec, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	m := &Manager{
		store:      store,
		codec:      codec,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer(tracerName),
		bcryptCost: 12,
		compare:    comparePassword,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bcryptCost < MinBcryptCost {
		m.bcryptCost = MinBcryptCost
	}
	dummy, err := hashPassword("no-such-user-placeholder", m.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy password hash: %w", err)
	}
	m.dummyHash = dummy
	return m, nil
}

// Codec exposes the token codec.
func (m *Manager) Codec() *Codec { return m.codec }

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Password string
	Email    string
	FullName string
	Role     string
	Client   ClientInfo
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   *PublicUser
	Tokens *TokenPair
}

// Register creates a user and signs a token pair for it.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (_ *AuthResult, err error) {
	ctx, span := m.tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if username == "" || in.Password == "" || email == "" {
		return nil, newError(KindValidation, "username, email and password are required", "missing fields", nil)
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if !ValidRole(role) {
		return nil, newError(KindValidation, "role must be one of: admin, user", "bad role "+role, nil)
	}

	existing, err := m.store.FindUserByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, internalError("find user", err)
	}
	if existing != nil {
		return nil, newError(KindConflict, ErrConflict.Message, "lookup hit id="+formatID(existing.ID), nil)
	}

	hash, err := hashPassword(in.Password, m.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, newError(KindValidation, "password is too long", "bcrypt", err)
		}
		return nil, internalError("hash password", err)
	}

	now := time.Now().UTC()
	u := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := m.store.InsertUser(ctx, u)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, newError(KindConflict, ErrConflict.Message, "insert raced", err)
		}
		return nil, internalError("insert user", err)
	}
	u.ID = id
	span.SetAttributes(attribute.Int64("user.id", id))

	pair, err := m.codec.MintPair(u)
	if err != nil {
		return nil, err
	}
	m.recordSession(ctx, u.ID, pair.AccessToken, in.Client)

	m.logger.InfoContext(ctx, "user registered", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return &AuthResult{User: u.Sanitize(), Tokens: pair}, nil
}

// Login checks credentials and signs a token pair. Unknown users and wrong
// passwords produce the same caller-visible error.
func (m *Manager) Login(ctx context.Context, identifier, password string, client ClientInfo) (_ *AuthResult, err error) {
	ctx, span := m.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, newError(KindValidation, "username and password are required", "missing fields", nil)
	}

	u, err := m.store.FindUserByUsernameOrEmail(ctx, identifier, strings.ToLower(identifier))
	if err != nil {
		return nil, internalError("find user", err)
	}
	if u == nil {
		_, _ = m.compare(m.dummyHash, password)
		m.logger.WarnContext(ctx, "login failed", "identifier", identifier, "reason", "unknown_user")
		return nil, newError(KindAuthentication, ErrAuthentication.Message, "unknown_user", nil)
	}

	ok, cmpErr := m.compare(u.PasswordHash, password)
	if cmpErr != nil {
		m.logger.ErrorContext(ctx, "password hash compare failed", "user_id", u.ID, "error", cmpErr)
	}
	if !ok {
		m.logger.WarnContext(ctx, "login failed", "identifier", identifier, "user_id", u.ID, "reason", "password_mismatch")
		return nil, newError(KindAuthentication, ErrAuthentication.Message, "password_mismatch", nil)
	}
	if !u.IsActive {
		m.logger.WarnContext(ctx, "login blocked", "user_id", u.ID, "reason", "account_disabled")
		return nil, newError(KindAccountDisabled, ErrAccountDisabled.Message, "inactive", nil)
	}
	span.SetAttributes(attribute.Int64("user.id", u.ID))

	pair, err := m.codec.MintPair(u)
	if err != nil {
		return nil, err
	}
	m.recordSession(ctx, u.ID, pair.AccessToken, client)

	m.logger.InfoContext(ctx, "user logged in", "user_id", u.ID)
	return &AuthResult{User: u.Sanitize(), Tokens: pair}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The presented
// refresh token stays usable until it expires or is revoked.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	ctx, span := m.tracer.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil, newError(KindValidation, "refresh token is required", "missing token", nil)
	}
	if err := m.checkBlacklist(ctx, refreshToken); err != nil {
		return nil, err
	}

	claims, err := m.codec.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	u, err := m.liveUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", u.ID))

	pair, err := m.codec.MintPair(u)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "token refreshed", "user_id", u.ID)
	return pair, nil
}

// Logout blacklists whichever tokens are given and marks the matching
// audit row inactive. Tokens this service did not sign are ignored. It
// never fails; storage errors are logged.
func (m *Manager) Logout(ctx context.Context, accessToken, refreshToken string) {
	ctx, span := m.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	if accessToken != "" && m.blacklist(ctx, accessToken, ReasonLogout) {
		if err := m.store.MarkSessionInactive(ctx, Fingerprint(accessToken)); err != nil {
			m.logger.WarnContext(ctx, "mark session inactive failed", "error", err)
		}
	}
	if refreshToken != "" {
		m.blacklist(ctx, refreshToken, ReasonLogout)
	}
}

// Revoke blacklists a single token of either kind. Unlike Logout it
// reports failures.
func (m *Manager) Revoke(ctx context.Context, token, reason string) (err error) {
	ctx, span := m.tracer.Start(ctx, "auth.Revoke")
	defer func() { endSpan(span, err) }()

	if reason == "" {
		reason = ReasonRevoked
	}
	claims, err := m.codec.VerifyIgnoringExpiry(token)
	if err != nil {
		return err
	}
	if err := m.store.InsertBlacklistEntry(ctx, claims.TokenID(), claims.ExpiresUnix(), reason); err != nil {
		return internalError("insert blacklist entry", err)
	}
	m.logger.InfoContext(ctx, "token revoked", "user_id", claims.UserID, "type", claims.Type, "reason", reason)
	return nil
}

// VerifyAccess runs the full access check: blacklist, signature and
// claims, then the live user record.
func (m *Manager) VerifyAccess(ctx context.Context, accessToken string) (_ *Claims, _ *User, err error) {
	ctx, span := m.tracer.Start(ctx, "auth.VerifyAccess")
	defer func() { endSpan(span, err) }()

	if accessToken == "" {
		return nil, nil, newError(KindMissingToken, ErrMissingToken.Message, "empty", nil)
	}
	if err := m.checkBlacklist(ctx, accessToken); err != nil {
		return nil, nil, err
	}

	claims, err := m.codec.Verify(accessToken, TokenTypeAccess)
	if err != nil {
		return nil, nil, err
	}

	u, err := m.liveUser(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return claims, u, nil
}

// TokenInfo is the introspection view of a token. Inactive tokens carry
// no other fields.
type TokenInfo struct {
	Active    bool      `json:"active"`
	Type      TokenType `json:"type,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt int64     `json:"exp,omitempty"`
	IssuedAt  int64     `json:"iat,omitempty"`
}

// Introspect reports whether a token of either kind is currently usable.
// Only store failures are returned as errors.
func (m *Manager) Introspect(ctx context.Context, token string) (_ *TokenInfo, err error) {
	ctx, span := m.tracer.Start(ctx, "auth.Introspect")
	defer func() { endSpan(span, err) }()

	inactive := &TokenInfo{}
	unverified := DecodeUnsafe(token)
	if unverified == nil {
		return inactive, nil
	}
	if unverified.Type != TokenTypeAccess && unverified.Type != TokenTypeRefresh {
		return inactive, nil
	}

	if err := m.checkBlacklist(ctx, token); err != nil {
		if KindOf(err) == KindInternal {
			return nil, err
		}
		return inactive, nil
	}
	claims, verr := m.codec.Verify(token, unverified.Type)
	if verr != nil {
		return inactive, nil
	}
	if _, uerr := m.liveUser(ctx, claims.UserID); uerr != nil {
		if KindOf(uerr) == KindInternal {
			return nil, uerr
		}
		return inactive, nil
	}
	return &TokenInfo{
		Active:    true,
		Type:      claims.Type,
		UserID:    claims.UserID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresUnix(),
		IssuedAt:  claims.IssuedUnix(),
	}, nil
}

// SetUserActive enables or disables an account. Outstanding tokens of a
// disabled user stop verifying immediately.
func (m *Manager) SetUserActive(ctx context.Context, id int64, active bool) (*PublicUser, error) {
	u, err := m.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, internalError("find user", err)
	}
	if u == nil {
		return nil, newError(KindNotFound, "user not found", "id="+formatID(id), nil)
	}
	if err := m.store.SetUserActive(ctx, id, active); err != nil {
		return nil, internalError("set user active", err)
	}
	u.IsActive = active
	m.logger.InfoContext(ctx, "user status changed", "user_id", id, "active", active)
	return u.Sanitize(), nil
}

// PurgeBlacklist drops entries that have already expired.
func (m *Manager) PurgeBlacklist(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeExpiredBlacklist(ctx, m.codec.Now().Unix())
	if err != nil {
		return 0, internalError("purge blacklist", err)
	}
	return n, nil
}

func (m *Manager) checkBlacklist(ctx context.Context, token string) error {
	claims := DecodeUnsafe(token)
	if claims == nil || claims.TokenID() == "" {
		// Verify reports the structural problem.
		return nil
	}
	revoked, err := m.store.IsBlacklisted(ctx, claims.TokenID(), m.codec.Now().Unix())
	if err != nil {
		return internalError("check blacklist", err)
	}
	if revoked {
		return newError(KindRevokedToken, ErrRevokedToken.Message, string(claims.Type), nil)
	}
	return nil
}

func (m *Manager) liveUser(ctx context.Context, id int64) (*User, error) {
	u, err := m.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, internalError("find user", err)
	}
	if u == nil {
		return nil, newError(KindUserNotFound, ErrUserNotFound.Message, "id="+formatID(id), nil)
	}
	if !u.IsActive {
		return nil, newError(KindAccountDisabled, ErrAccountDisabled.Message, "id="+formatID(id), nil)
	}
	return u, nil
}

// blacklist records a token signed by this service, expired or not, and
// reports whether it was one. Forged tokens never reach the store.
func (m *Manager) blacklist(ctx context.Context, token, reason string) bool {
	claims, err := m.codec.VerifyIgnoringExpiry(token)
	if err != nil {
		m.logger.DebugContext(ctx, "skip blacklisting unverifiable token", "kind", KindOf(err).String())
		return false
	}
	if err := m.store.InsertBlacklistEntry(ctx, claims.TokenID(), claims.ExpiresUnix(), reason); err != nil {
		m.logger.WarnContext(ctx, "blacklist insert failed", "type", claims.Type, "error", err)
	}
	return true
}

// recordSession writes the audit row; failures never reach the caller.
func (m *Manager) recordSession(ctx context.Context, userID int64, accessToken string, client ClientInfo) {
	claims := DecodeUnsafe(accessToken)
	var exp int64
	if claims != nil {
		exp = claims.ExpiresUnix()
	}
	err := m.store.InsertSessionAudit(ctx, &SessionAudit{
		UserID:      userID,
		Fingerprint: Fingerprint(accessToken),
		ExpiresAt:   exp,
		ClientIP:    client.IP,
		UserAgent:   client.UserAgent,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "session audit write failed", "user_id", userID, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_kind", KindOf(err).String()))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
