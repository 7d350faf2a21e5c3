package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmcleod/todoapi/auth"
)

type contextKey int

const subjectKey contextKey = iota

// maxBodySize bounds JSON request bodies.
const maxBodySize = 64 << 10

// RequireSession verifies the session cookie, reissues a fresh session
// token and stores the subject on the request context. Requests without a
// valid session are rejected with 401.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return a.sessionMiddleware(false, next)
}

// RequireSessionCSRF is RequireSession preceded by a double-submit CSRF
// check. The CSRF check runs first.
func (a *API) RequireSessionCSRF(next http.Handler) http.Handler {
	return a.sessionMiddleware(true, next)
}

func (a *API) sessionMiddleware(withCSRF bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			subject, token string
			err            error
		)
		if withCSRF {
			pair := a.sessions.CSRF().PairFromRequest(r)
			subject, token, err = a.sessions.VerifyWithCSRFAndReissue(pair, auth.SessionCookie(r))
		} else {
			subject, token, err = a.sessions.VerifyAndReissue(auth.SessionCookie(r))
		}
		if err != nil {
			a.rejectRequest(w, r, err)
			return
		}
		a.sessions.SetSessionCookie(w, token)

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rejectRequest audits and reports a session or CSRF failure. Anything
// else is an internal error.
func (a *API) rejectRequest(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrCSRF):
		a.audit.logFailure(AuditCSRFRejected, r, err.Error())
	case auth.IsAuthenticationError(err):
		a.audit.logFailure(AuditTokenRejected, r, err.Error())
	default:
		a.writeInternalError(w, r, err)
		return
	}
	writeAuthError(w, r, err)
}

func subjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// decodeJSON reads a JSON body of type T. On failure it writes a 400
// response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return v, false
	}
	return v, true
}
