package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the payload of both token kinds. Access tokens carry SessionID,
// refresh tokens carry RefreshID.
type Claims struct {
	UserID    int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"`
	Email     string    `json:"email,omitempty"`
	Type      TokenType `json:"type"`
	SessionID string    `json:"sid,omitempty"`
	RefreshID string    `json:"rid,omitempty"`
	jwt.RegisteredClaims
}

// TokenID returns the identifier used for blacklisting.
func (c *Claims) TokenID() string {
	if c.Type == TokenTypeRefresh {
		return c.RefreshID
	}
	return c.SessionID
}

// ExpiresUnix returns exp in unix seconds, or 0 when absent.
func (c *Claims) ExpiresUnix() int64 {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Unix()
}

// IssuedUnix returns iat in unix seconds, or 0 when absent.
func (c *Claims) IssuedUnix() int64 {
	if c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Unix()
}

// TokenPair is what login, register and refresh hand back to clients.
// Lifetimes are in seconds.
type TokenPair struct {
	AccessToken      string `json:"token"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
	TokenType        string `json:"tokenType"`
}

// TokenConfig configures a Codec.
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
}

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "task-management-api"
	DefaultAudience   = "task-management-client"
)

// Codec mints and parses HS256 tokens. It does no I/O.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
	now        func() time.Time
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat, exp and validation.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg TokenConfig, opts ...CodecOption) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	c := &Codec{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// Now returns the codec clock reading.
func (c *Codec) Now() time.Time { return c.now() }

// MintAccessToken signs an access token for u.
func (c *Codec) MintAccessToken(u *User) (string, error) {
	return c.mintAccess(u, c.now())
}

// MintRefreshToken signs a refresh token for u.
func (c *Codec) MintRefreshToken(u *User) (string, error) {
	return c.mintRefresh(u, c.now())
}

// MintPair signs an access and a refresh token from one snapshot of u.
func (c *Codec) MintPair(u *User) (*TokenPair, error) {
	if u == nil {
		return nil, internalError("mint pair", errors.New("nil user"))
	}
	snapshot := *u
	now := c.now()

	access, err := c.mintAccess(&snapshot, now)
	if err != nil {
		return nil, err
	}
	refresh, err := c.mintRefresh(&snapshot, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(c.accessTTL / time.Second),
		RefreshExpiresIn: int64(c.refreshTTL / time.Second),
		TokenType:        "Bearer",
	}, nil
}

func (c *Codec) mintAccess(u *User, now time.Time) (string, error) {
	if u == nil || u.ID <= 0 {
		return "", internalError("mint access token", errors.New("user id is required"))
	}
	sid, err := genToken(16)
	if err != nil {
		return "", internalError("mint access token", err)
	}
	claims := &Claims{
		UserID:           u.ID,
		Username:         u.Username,
		Role:             u.Role,
		Email:            u.Email,
		Type:             TokenTypeAccess,
		SessionID:        sid,
		RegisteredClaims: c.registered(u, now, c.accessTTL),
	}
	return c.sign(claims)
}

func (c *Codec) mintRefresh(u *User, now time.Time) (string, error) {
	if u == nil || u.ID <= 0 {
		return "", internalError("mint refresh token", errors.New("user id is required"))
	}
	rid, err := genToken(16)
	if err != nil {
		return "", internalError("mint refresh token", err)
	}
	claims := &Claims{
		UserID:           u.ID,
		Username:         u.Username,
		Type:             TokenTypeRefresh,
		RefreshID:        rid,
		RegisteredClaims: c.registered(u, now, c.refreshTTL),
	}
	return c.sign(claims)
}

func (c *Codec) registered(u *User, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   strconv.FormatInt(u.ID, 10),
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", internalError("sign token", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience, expiry and the type
// discriminator.
func (c *Codec) Verify(tokenString string, expected TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, newError(KindMalformedToken, ErrMalformedToken.Message, "empty token", nil)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, newError(KindMalformedToken, ErrMalformedToken.Message, "unexpected claims", nil)
	}
	if claims.Type != expected {
		return nil, newError(KindWrongTokenType, ErrWrongTokenType.Message,
			fmt.Sprintf("expected %s token, got %q", expected, claims.Type), nil)
	}
	if claims.UserID <= 0 || claims.TokenID() == "" {
		return nil, newError(KindMalformedToken, ErrMalformedToken.Message, "missing identity claims", nil)
	}
	return claims, nil
}

// VerifyIgnoringExpiry checks signature, issuer, audience and identity
// claims of a token of either type but accepts an expired one. It gates
// blacklist writes, which must not accept forged identifiers or expiries.
func (c *Codec) VerifyIgnoringExpiry(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, newError(KindMalformedToken, ErrMalformedToken.Message, "empty token", nil)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithoutClaimsValidation(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, newError(KindMalformedToken, ErrMalformedToken.Message, "unexpected claims", nil)
	}
	if claims.Issuer != c.issuer {
		return nil, newError(KindWrongIssuer, ErrWrongIssuer.Message, "issuer", nil)
	}
	if !slices.Contains(claims.Audience, c.audience) {
		return nil, newError(KindWrongAudience, ErrWrongAudience.Message, "audience", nil)
	}
	if claims.Type != TokenTypeAccess && claims.Type != TokenTypeRefresh {
		return nil, newError(KindWrongTokenType, ErrWrongTokenType.Message,
			fmt.Sprintf("unknown token type %q", claims.Type), nil)
	}
	if claims.UserID <= 0 || claims.TokenID() == "" || claims.ExpiresAt == nil {
		return nil, newError(KindMalformedToken, ErrMalformedToken.Message, "missing identity claims", nil)
	}
	return claims, nil
}

func classifyParseError(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(KindExpiredToken, ErrExpiredToken.Message, "exp passed", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return newError(KindInvalidSignature, ErrInvalidSignature.Message, "signature", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return newError(KindWrongIssuer, ErrWrongIssuer.Message, "issuer", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return newError(KindWrongAudience, ErrWrongAudience.Message, "audience", err)
	default:
		return newError(KindMalformedToken, ErrMalformedToken.Message, "parse", err)
	}
}

// DecodeUnsafe parses the token without checking the signature or any
// claim. Only use the result to locate identifiers and expiry; never to
// authorize.
func DecodeUnsafe(tokenString string) *Claims {
	if tokenString == "" {
		return nil
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

// Fingerprint is the hex SHA-256 of a raw token, used to key audit rows.
func Fingerprint(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
