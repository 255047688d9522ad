package auth_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/example/taskauth/internal/auth"
	"github.com/example/taskauth/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixture struct {
	db      *store.MemDB
	clock   *fakeClock
	codec   *auth.Codec
	manager *auth.Manager
}

func newFixture(t *testing.T, st auth.Store, opts ...auth.Option) *fixture {
	t.Helper()
	db := store.NewMemoryDB()
	if st == nil {
		st = db
	}
	clock := &fakeClock{t: time.Now()}
	codec := newCodec(t, auth.TokenConfig{AccessTTL: time.Hour, RefreshTTL: 7 * 24 * time.Hour}, auth.WithClock(clock.Now))
	m, err := auth.NewManager(st, codec, append([]auth.Option{auth.WithBcryptCost(auth.MinBcryptCost)}, opts...)...)
	require.NoError(t, err)
	return &fixture{db: db, clock: clock, codec: codec, manager: m}
}

func (f *fixture) register(t *testing.T, username, password string) *auth.AuthResult {
	t.Helper()
	res, err := f.manager.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Password: password,
		Email:    username + "@example.com",
		Client:   auth.ClientInfo{IP: "10.0.0.1", UserAgent: "go-test"},
	})
	require.NoError(t, err)
	return res
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{})
	_, err := auth.NewManager(nil, codec)
	assert.Error(t, err)
	_, err = auth.NewManager(store.NewMemoryDB(), nil)
	assert.Error(t, err)
}

func TestRegisterLoginVerify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	reg := f.register(t, "alice", "Passw0rd!")
	assert.Equal(t, "alice", reg.User.Username)
	assert.Equal(t, auth.RoleUser, reg.User.Role)
	assert.True(t, reg.User.IsActive)
	assert.NotEmpty(t, reg.Tokens.AccessToken)

	login, err := f.manager.Login(ctx, "alice", "Passw0rd!", auth.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)

	claims, u, err := f.manager.VerifyAccess(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)
	assert.Equal(t, "alice", u.Username)

	stored, err := f.db.FindUserByID(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd!", stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))

	audit, ok := f.db.Session(auth.Fingerprint(login.Tokens.AccessToken))
	require.True(t, ok)
	assert.True(t, audit.Active)
	assert.Equal(t, reg.User.ID, audit.UserID)
}

func TestLogin_ByEmail(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "Passw0rd!")

	res, err := f.manager.Login(context.Background(), "Alice@Example.com", "Passw0rd!", auth.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "Passw0rd!")

	login, err := f.manager.Login(ctx, "alice", "Passw0rd!", auth.ClientInfo{})
	require.NoError(t, err)

	f.manager.Logout(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken)

	_, _, err = f.manager.VerifyAccess(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	_, err = f.manager.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	audit, ok := f.db.Session(auth.Fingerprint(login.Tokens.AccessToken))
	require.True(t, ok)
	assert.False(t, audit.Active)

	// Repeating the logout leaves a single entry per token.
	f.manager.Logout(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	assert.Equal(t, 2, f.db.BlacklistLen())
}

func TestLogout_NeverFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		f.manager.Logout(ctx, "", "")
		f.manager.Logout(ctx, "garbage", "also-garbage")
	})
	assert.Zero(t, f.db.BlacklistLen())

	broken := newFixture(t, &failingStore{MemDB: store.NewMemoryDB(), failBlacklist: true})
	assert.NotPanics(t, func() {
		pair, err := broken.codec.MintPair(testUser())
		require.NoError(t, err)
		broken.manager.Logout(ctx, pair.AccessToken, pair.RefreshToken)
	})
}

// forgedRefreshToken is a well-formed refresh token signed with a key the
// service does not know, expiring far in the future.
func forgedRefreshToken(t *testing.T, rid string) string {
	t.Helper()
	claims := &auth.Claims{
		UserID:    42,
		Username:  "mallory",
		Type:      auth.TokenTypeRefresh,
		RefreshID: rid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.DefaultIssuer,
			Audience:  jwt.ClaimStrings{auth.DefaultAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("attacker-controlled-key-000000000"))
	require.NoError(t, err)
	return tok
}

func TestLogout_IgnoresForeignTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.manager.Logout(ctx, "", forgedRefreshToken(t, fmt.Sprintf("rid-%d", i)))
	}
	assert.Zero(t, f.db.BlacklistLen())

	otherIssuer := newCodec(t, auth.TokenConfig{Issuer: "someone-else"})
	pair, err := otherIssuer.MintPair(testUser())
	require.NoError(t, err)
	f.manager.Logout(ctx, pair.AccessToken, pair.RefreshToken)
	assert.Zero(t, f.db.BlacklistLen())
	_, ok := f.db.Session(auth.Fingerprint(pair.AccessToken))
	assert.False(t, ok)
}

func TestLogout_BlacklistsExpiredGenuineToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	f.clock.Advance(2 * time.Hour)
	f.manager.Logout(ctx, reg.Tokens.AccessToken, "")
	assert.Equal(t, 1, f.db.BlacklistLen())
}

func TestRevoke_RejectsForeignTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.manager.Revoke(ctx, forgedRefreshToken(t, "rid"), "")
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
	assert.Zero(t, f.db.BlacklistLen())
}

func TestVerifyAccess_DisabledUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	login, err := f.manager.Login(ctx, "alice", "Passw0rd!", auth.ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.db.SetUserActive(ctx, reg.User.ID, false))

	_, err = f.codec.Verify(login.Tokens.AccessToken, auth.TokenTypeAccess)
	require.NoError(t, err)

	_, _, err = f.manager.VerifyAccess(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrAccountDisabled)

	_, err = f.manager.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrAccountDisabled)

	_, err = f.manager.Login(ctx, "alice", "Passw0rd!", auth.ClientInfo{})
	assert.ErrorIs(t, err, auth.ErrAccountDisabled)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "Passw0rd!")

	_, wrongPass := f.manager.Login(ctx, "alice", "nope", auth.ClientInfo{})
	_, unknown := f.manager.Login(ctx, "bob", "Passw0rd!", auth.ClientInfo{})

	require.ErrorIs(t, wrongPass, auth.ErrAuthentication)
	require.ErrorIs(t, unknown, auth.ErrAuthentication)
	assert.Equal(t, wrongPass.Error(), unknown.Error())

	var a, b *auth.Error
	require.ErrorAs(t, wrongPass, &a)
	require.ErrorAs(t, unknown, &b)
	assert.Equal(t, a.Message, b.Message)
	assert.NotEqual(t, a.Reason, b.Reason)
}

func TestLogin_DisabledWrongPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")
	require.NoError(t, f.db.SetUserActive(ctx, reg.User.ID, false))

	_, err := f.manager.Login(ctx, "alice", "wrong", auth.ClientInfo{})
	assert.ErrorIs(t, err, auth.ErrAuthentication)
}

func TestRefresh_IssuesLaterPair(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	f.clock.Advance(2 * time.Second)
	pair, err := f.manager.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)

	before := auth.DecodeUnsafe(reg.Tokens.AccessToken)
	after := auth.DecodeUnsafe(pair.AccessToken)
	assert.Greater(t, after.IssuedUnix(), before.IssuedUnix())
	assert.NotEqual(t, before.SessionID, after.SessionID)

	// The presented refresh token is not consumed.
	_, err = f.manager.Refresh(ctx, reg.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_SameSecondPairIsDistinct(t *testing.T) {
	f := newFixture(t, nil)
	reg := f.register(t, "alice", "Passw0rd!")

	// iat has one-second resolution, so only the identifiers differ here.
	pair, err := f.manager.Refresh(context.Background(), reg.Tokens.RefreshToken)
	require.NoError(t, err)

	before := auth.DecodeUnsafe(reg.Tokens.AccessToken)
	after := auth.DecodeUnsafe(pair.AccessToken)
	assert.Equal(t, before.IssuedUnix(), after.IssuedUnix())
	assert.NotEqual(t, before.SessionID, after.SessionID)
	assert.NotEqual(t, reg.Tokens.AccessToken, pair.AccessToken)
	assert.NotEqual(t, reg.Tokens.RefreshToken, pair.RefreshToken)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	_, err := f.manager.Refresh(ctx, "")
	assert.ErrorIs(t, err, auth.ErrValidation)

	_, err = f.manager.Refresh(ctx, reg.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.manager.Refresh(ctx, reg.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestRefresh_DeletedUser(t *testing.T) {
	f := newFixture(t, nil)
	pair, err := f.codec.MintPair(&auth.User{ID: 999, Username: "ghost", Role: auth.RoleUser})
	require.NoError(t, err)

	_, err = f.manager.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	_, _, err = f.manager.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestVerifyAccess_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	_, _, err := f.manager.VerifyAccess(ctx, "")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, _, err = f.manager.VerifyAccess(ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrMalformedToken)

	_, _, err = f.manager.VerifyAccess(ctx, reg.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)

	f.clock.Advance(2 * time.Hour)
	_, _, err = f.manager.VerifyAccess(ctx, reg.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "Passw0rd!")

	tests := []struct {
		name string
		in   auth.RegisterInput
		want error
	}{
		{"missing password", auth.RegisterInput{Username: "bob", Email: "bob@example.com"}, auth.ErrValidation},
		{"missing username", auth.RegisterInput{Password: "x", Email: "bob@example.com"}, auth.ErrValidation},
		{"bad role", auth.RegisterInput{Username: "bob", Password: "x", Email: "bob@example.com", Role: "root"}, auth.ErrValidation},
		{"too long", auth.RegisterInput{Username: "bob", Password: strings.Repeat("p", 80), Email: "bob@example.com"}, auth.ErrValidation},
		{"taken username", auth.RegisterInput{Username: "alice", Password: "x", Email: "other@example.com"}, auth.ErrConflict},
		{"taken email", auth.RegisterInput{Username: "carol", Password: "x", Email: "ALICE@example.com"}, auth.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Register(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegister_AdminRole(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.manager.Register(context.Background(), auth.RegisterInput{
		Username: "root", Password: "Passw0rd!", Email: "root@example.com", Role: auth.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, res.User.Role)
	assert.Equal(t, auth.RoleAdmin, auth.DecodeUnsafe(res.Tokens.AccessToken).Role)
}

func TestRegister_InsertRace(t *testing.T) {
	f := newFixture(t, &failingStore{MemDB: store.NewMemoryDB(), duplicateInsert: true})
	_, err := f.manager.Register(context.Background(), auth.RegisterInput{
		Username: "alice", Password: "Passw0rd!", Email: "alice@example.com",
	})
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestSessionAuditFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, &failingStore{MemDB: store.NewMemoryDB(), failAudit: true})

	res := f.register(t, "alice", "Passw0rd!")
	assert.NotEmpty(t, res.Tokens.AccessToken)

	_, err := f.manager.Login(context.Background(), "alice", "Passw0rd!", auth.ClientInfo{})
	assert.NoError(t, err)
}

func TestStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, &failingStore{MemDB: store.NewMemoryDB(), failBlacklist: true})
	pair, err := f.codec.MintPair(testUser())
	require.NoError(t, err)

	_, _, err = f.manager.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInternal)
	assert.NotContains(t, err.(*auth.Error).Message, "blacklist down")
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	require.NoError(t, f.manager.Revoke(ctx, reg.Tokens.RefreshToken, ""))
	_, err := f.manager.Refresh(ctx, reg.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	// Access token is unaffected.
	_, _, err = f.manager.VerifyAccess(ctx, reg.Tokens.AccessToken)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.manager.Revoke(ctx, "garbage", ""), auth.ErrMalformedToken)
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	info, err := f.manager.Introspect(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, auth.TokenTypeRefresh, info.Type)
	assert.Equal(t, reg.User.ID, info.UserID)

	info, err = f.manager.Introspect(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, info.Active)

	f.manager.Logout(ctx, reg.Tokens.AccessToken, "")
	info, err = f.manager.Introspect(ctx, reg.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &auth.TokenInfo{}, info)

	broken := newFixture(t, &failingStore{MemDB: store.NewMemoryDB(), failBlacklist: true})
	pair, err := broken.codec.MintPair(testUser())
	require.NoError(t, err)
	_, err = broken.manager.Introspect(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInternal)
}

func TestSetUserActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")

	u, err := f.manager.SetUserActive(ctx, reg.User.ID, false)
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	_, _, err = f.manager.VerifyAccess(ctx, reg.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrAccountDisabled)

	_, err = f.manager.SetUserActive(ctx, reg.User.ID, true)
	require.NoError(t, err)
	_, _, err = f.manager.VerifyAccess(ctx, reg.Tokens.AccessToken)
	assert.NoError(t, err)

	_, err = f.manager.SetUserActive(ctx, 999, false)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestPurgeBlacklist(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := f.register(t, "alice", "Passw0rd!")
	f.manager.Logout(ctx, reg.Tokens.AccessToken, reg.Tokens.RefreshToken)
	require.Equal(t, 2, f.db.BlacklistLen())

	n, err := f.manager.PurgeBlacklist(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.manager.PurgeBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.db.BlacklistLen())
}

func TestManagerSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	f := newFixture(t, nil, auth.WithTracerProvider(tp))

	f.register(t, "alice", "Passw0rd!")
	_, err := f.manager.Login(context.Background(), "alice", "bad", auth.ClientInfo{})
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "auth.Register", spans[0].Name())
	assert.Equal(t, "auth.Login", spans[1].Name())

	var kind string
	for _, attr := range spans[1].Attributes() {
		if attr.Key == "auth.error_kind" {
			kind = attr.Value.AsString()
		}
	}
	assert.Equal(t, "authentication", kind)
}

// failingStore wraps MemDB and injects failures into selected operations.
type failingStore struct {
	*store.MemDB
	failAudit       bool
	failBlacklist   bool
	duplicateInsert bool
}

var errInjected = errors.New("blacklist down")

func (s *failingStore) InsertSessionAudit(ctx context.Context, a *auth.SessionAudit) error {
	if s.failAudit {
		return errInjected
	}
	return s.MemDB.InsertSessionAudit(ctx, a)
}

func (s *failingStore) MarkSessionInactive(ctx context.Context, fp string) error {
	if s.failAudit {
		return errInjected
	}
	return s.MemDB.MarkSessionInactive(ctx, fp)
}

func (s *failingStore) InsertBlacklistEntry(ctx context.Context, id string, exp int64, reason string) error {
	if s.failBlacklist {
		return errInjected
	}
	return s.MemDB.InsertBlacklistEntry(ctx, id, exp, reason)
}

func (s *failingStore) IsBlacklisted(ctx context.Context, id string, now int64) (bool, error) {
	if s.failBlacklist {
		return false, errInjected
	}
	return s.MemDB.IsBlacklisted(ctx, id, now)
}

func (s *failingStore) InsertUser(ctx context.Context, u *auth.User) (int64, error) {
	if s.duplicateInsert {
		return 0, auth.ErrDuplicate
	}
	return s.MemDB.InsertUser(ctx, u)
}
