package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure. The set is closed: every Kind
// is translated to exactly one HTTP status by the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindAccountDisabled
	KindExpiredToken
	KindMalformedToken
	KindInvalidSignature
	KindWrongIssuer
	KindWrongAudience
	KindWrongTokenType
	KindRevokedToken
	KindUserNotFound
	KindMissingToken
	KindForbidden
	KindNotFound
)

var kindNames = map[Kind]string{
	KindInternal:         "internal",
	KindValidation:       "validation",
	KindConflict:         "conflict",
	KindAuthentication:   "authentication",
	KindAccountDisabled:  "account_disabled",
	KindExpiredToken:     "expired_token",
	KindMalformedToken:   "malformed_token",
	KindInvalidSignature: "invalid_signature",
	KindWrongIssuer:      "wrong_issuer",
	KindWrongAudience:    "wrong_audience",
	KindWrongTokenType:   "wrong_token_type",
	KindRevokedToken:     "revoked_token",
	KindUserNotFound:     "user_not_found",
	KindMissingToken:     "missing_token",
	KindForbidden:        "forbidden",
	KindNotFound:         "not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed error returned by the codec and the session manager.
// Message is safe to show to clients; Reason is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match on Kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation       = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "username or email already exists"}
	ErrAuthentication   = &Error{Kind: KindAuthentication, Message: "invalid credentials"}
	ErrAccountDisabled  = &Error{Kind: KindAccountDisabled, Message: "account is disabled"}
	ErrExpiredToken     = &Error{Kind: KindExpiredToken, Message: "token has expired"}
	ErrMalformedToken   = &Error{Kind: KindMalformedToken, Message: "token is malformed"}
	ErrInvalidSignature = &Error{Kind: KindInvalidSignature, Message: "token signature is invalid"}
	ErrWrongIssuer      = &Error{Kind: KindWrongIssuer, Message: "token issuer is invalid"}
	ErrWrongAudience    = &Error{Kind: KindWrongAudience, Message: "token audience is invalid"}
	ErrWrongTokenType   = &Error{Kind: KindWrongTokenType, Message: "wrong token type"}
	ErrRevokedToken     = &Error{Kind: KindRevokedToken, Message: "token has been revoked"}
	ErrUserNotFound     = &Error{Kind: KindUserNotFound, Message: "user not found"}
	ErrMissingToken     = &Error{Kind: KindMissingToken, Message: "access token required"}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "insufficient permissions"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrInternal         = &Error{Kind: KindInternal, Message: "internal error"}
)

func newError(kind Kind, message, reason string, err error) *Error {
	return &Error{Kind: kind, Message: message, Reason: reason, Err: err}
}

func internalError(op string, err error) *Error {
	return newError(KindInternal, "internal error", op, err)
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsInvalidToken reports whether err describes a token that failed
// structural or cryptographic checks.
func IsInvalidToken(err error) bool {
	switch KindOf(err) {
	case KindMalformedToken, KindInvalidSignature, KindWrongIssuer, KindWrongAudience, KindWrongTokenType:
		return true
	default:
		return false
	}
}
