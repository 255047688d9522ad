package main

import (
	"context"

	"github.com/example/taskauth/internal/auth"
)

type ctxKey int

const (
	ctxKeyUser ctxKey = iota
	ctxKeyClaims
	ctxKeyToken
	ctxKeyLogIdentity
)

// logIdentity is placed on the context by Logging and filled in by
// RequireAuth, which runs on an inner request.
type logIdentity struct {
	userID string
}

func withLogIdentity(ctx context.Context) (context.Context, *logIdentity) {
	id := &logIdentity{}
	return context.WithValue(ctx, ctxKeyLogIdentity, id), id
}

func setLogIdentity(ctx context.Context, userID string) {
	if id, ok := ctx.Value(ctxKeyLogIdentity).(*logIdentity); ok {
		id.userID = userID
	}
}

// withIdentity attaches what the gate resolved for the request.
func withIdentity(ctx context.Context, u *auth.PublicUser, claims *auth.Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUser, u)
	ctx = context.WithValue(ctx, ctxKeyClaims, claims)
	return context.WithValue(ctx, ctxKeyToken, token)
}

// UserFromContext returns the authenticated user, without password hash.
func UserFromContext(ctx context.Context) (*auth.PublicUser, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*auth.PublicUser)
	return u, ok && u != nil
}

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok && c != nil
}

// TokenFromContext returns the raw access token the request was admitted with.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyToken).(string)
	return t
}
