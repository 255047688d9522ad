package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/taskauth/internal/auth"
	applog "github.com/example/taskauth/internal/logger"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details any    `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

type errorResponse struct {
	status  int
	code    string
	message string
}

// describeError maps every auth.Kind to one status, code and client message.
func describeError(kind auth.Kind) errorResponse {
	switch kind {
	case auth.KindValidation:
		return errorResponse{http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request"}
	case auth.KindConflict:
		return errorResponse{http.StatusConflict, "USER_EXISTS", "Username or email already exists"}
	case auth.KindAuthentication:
		return errorResponse{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password"}
	case auth.KindAccountDisabled:
		return errorResponse{http.StatusUnauthorized, "ACCOUNT_DISABLED", "Account is disabled"}
	case auth.KindExpiredToken:
		return errorResponse{http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired, please log in again"}
	case auth.KindMalformedToken, auth.KindInvalidSignature, auth.KindWrongIssuer,
		auth.KindWrongAudience, auth.KindWrongTokenType:
		return errorResponse{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token"}
	case auth.KindRevokedToken:
		return errorResponse{http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked"}
	case auth.KindUserNotFound:
		return errorResponse{http.StatusUnauthorized, "USER_NOT_FOUND", "User no longer exists"}
	case auth.KindMissingToken:
		return errorResponse{http.StatusUnauthorized, "TOKEN_MISSING", "Access token required"}
	case auth.KindForbidden:
		return errorResponse{http.StatusForbidden, "FORBIDDEN", "Insufficient permissions"}
	case auth.KindNotFound:
		return errorResponse{http.StatusNotFound, "NOT_FOUND", "Resource not found"}
	case auth.KindInternal:
		return errorResponse{http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"}
	}
	return errorResponse{http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"}
}

// writeAuthError translates an error from the auth package. Validation
// messages are passed through; everything else uses the fixed message.
func (a *App) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	resp := describeError(kind)

	message := resp.message
	var ae *auth.Error
	if kind == auth.KindValidation && errors.As(err, &ae) && ae.Message != "" {
		message = ae.Message
	}

	log := applog.WithContext(r.Context(), a.Logger)
	if kind == auth.KindInternal {
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	} else {
		reason := ""
		if ae != nil || errors.As(err, &ae) {
			reason = ae.Reason
		}
		log.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "kind", kind.String(), "reason", reason)
	}
	writeError(w, resp.status, resp.code, message)
}
