package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"

	"github.com/example/taskauth/internal/auth"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Email    string `json:"email" validate:"required,email,max=100"`
	FullName string `json:"fullName" validate:"max=100"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	Message string           `json:"message"`
	User    *auth.PublicUser `json:"user"`
	*auth.TokenPair
}

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON body of at most maxBodyBytes into dst. An empty
// body is accepted when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

// validateRequest writes a 400 and returns false when v fails its tags.
func validateRequest(w http.ResponseWriter, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request")
		return false
	}
	fields := make(map[string]string, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := msgForTag(fe)
		fields[fe.Field()] = msg
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Field(), msg))
	}
	writeErrorDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", strings.Join(msgs, "; "), fields)
	return false
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

func clientInfo(r *http.Request) auth.ClientInfo {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return auth.ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validateRequest(w, req) {
		return
	}

	// Only an authenticated admin may create another admin.
	if req.Role == auth.RoleAdmin && !a.callerIsAdmin(r) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required roles: admin")
		return
	}

	res, err := a.Auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     req.Role,
		Client:   clientInfo(r),
	})
	recordAuthEvent("register", err)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{
		Message:   "User registered successfully",
		User:      res.User,
		TokenPair: res.Tokens,
	})
}

// callerIsAdmin checks an optional bearer token without rejecting the
// request when it is absent or invalid.
func (a *App) callerIsAdmin(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	_, u, err := a.Auth.VerifyAccess(r.Context(), token)
	return err == nil && u.Role == auth.RoleAdmin
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validateRequest(w, req) {
		return
	}

	res, err := a.Auth.Login(r.Context(), req.Username, req.Password, clientInfo(r))
	recordAuthEvent("login", err)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Message:   "Login successful",
		User:      res.User,
		TokenPair: res.Tokens,
	})
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validateRequest(w, req) {
		return
	}

	pair, err := a.Auth.Refresh(r.Context(), req.RefreshToken)
	recordAuthEvent("refresh", err)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// HandleLogout accepts an optional bearer header and an optional refresh
// token in the body. It succeeds whatever they contain.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	access, _ := bearerToken(r)

	a.Auth.Logout(r.Context(), access, req.RefreshToken)
	recordAuthEvent("logout", nil)
	writeSuccess(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		a.writeAuthError(w, r, auth.ErrMissingToken)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *App) HandleVerify(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	claims, cok := ClaimsFromContext(r.Context())
	if !ok || !cok {
		a.writeAuthError(w, r, auth.ErrMissingToken)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"user":      u,
		"expiresAt": claims.ExpiresUnix(),
	})
}
