package main

import (
	"net/http"
	"strconv"

	"github.com/example/taskauth/internal/auth"
	"github.com/gorilla/mux"
)

type tokenRequest struct {
	Token  string `json:"token" validate:"required"`
	Reason string `json:"reason" validate:"max=100"`
}

type userStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// HandleRevokeToken blacklists a single access or refresh token
// POST /api/auth/revoke
func (a *App) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validateRequest(w, req) {
		return
	}

	err := a.Auth.Revoke(r.Context(), req.Token, req.Reason)
	recordAuthEvent("revoke", err)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"revoked": true})
}

// HandleTokenIntrospect reports whether a token is currently usable
// POST /api/auth/introspect
func (a *App) HandleTokenIntrospect(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validateRequest(w, req) {
		return
	}

	info, err := a.Auth.Introspect(r.Context(), req.Token)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleSetUserStatus enables or disables an account
// PATCH /api/users/{id}/status
func (a *App) HandleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}
	var req userStatusRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validateRequest(w, req) {
		return
	}
	if caller, ok := UserFromContext(r.Context()); ok && caller.ID == id && !*req.IsActive {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "You cannot disable your own account")
		return
	}

	u, err := a.Auth.SetUserActive(r.Context(), id, *req.IsActive)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]*auth.PublicUser{"user": u})
}

// HandleBlacklistCleanup purges expired blacklist entries now
// POST /api/admin/blacklist/cleanup
func (a *App) HandleBlacklistCleanup(w http.ResponseWriter, r *http.Request) {
	n := sweepBlacklist(r.Context(), a.Auth, a.Logger)
	writeSuccess(w, http.StatusOK, map[string]int64{"purged": n})
}
