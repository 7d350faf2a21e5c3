package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/todoapi/auth"
	"github.com/jmcleod/todoapi/todo"
	"github.com/jmcleod/todoapi/user"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Detail: msg})
}

// writeAuthError reports a session token or CSRF failure along with the
// URL of the rejected request.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusUnauthorized
	var csrfErr *auth.CSRFError
	if errors.As(err, &csrfErr) && csrfErr.Status != 0 {
		status = csrfErr.Status
	}
	writeJSON(w, status, ErrorResponse{Detail: authDetail(err), URL: requestURL(r)})
}

func authDetail(err error) string {
	var csrfErr *auth.CSRFError
	switch {
	case errors.As(err, &csrfErr):
		return csrfErr.Message
	case errors.Is(err, auth.ErrTokenMissing):
		return "Token is missing"
	case errors.Is(err, auth.ErrTokenExpired):
		return "Signature has expired"
	default:
		return "Invalid token"
	}
}

// requestURL rebuilds the absolute URL of r.
func requestURL(r *http.Request) string {
	scheme := "http"
	if requestIsSecure(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *auth.PolicyViolation
	switch {
	case auth.IsAuthenticationError(err):
		writeAuthError(w, r, err)
	case errors.As(err, &violation):
		writeError(w, http.StatusBadRequest, violation.Reason)
	case errors.Is(err, user.ErrConflict):
		writeError(w, http.StatusConflict, "User already exists")
	case errors.Is(err, user.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Invalid email or password")
	case errors.Is(err, user.ErrInvalidInput), errors.Is(err, todo.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, todo.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, user.ErrNotFound):
		// The session names an account that no longer exists.
		writeAuthError(w, r, auth.ErrTokenInvalid)
	default:
		a.writeInternalError(w, r, err)
	}
}

func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.LogAttrs(r.Context(), slog.LevelError, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
