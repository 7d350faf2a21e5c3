package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/todoapi/auth"
	"github.com/jmcleod/todoapi/user"
)

// CSRFToken handles GET /csrf-token. The plain token is returned in the
// body and its signed counterpart is set as the CSRF cookie.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	csrf := a.sessions.CSRF()
	pair, err := csrf.Generate()
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	csrf.SetCookie(w, pair)
	writeJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: pair.Token})
}

// Register handles POST /register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.CSRF().ValidateRequest(r); err != nil {
		a.rejectRequest(w, r, err)
		return
	}
	req, ok := decodeJSON[UserBody](w, r)
	if !ok {
		return
	}

	info, err := a.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		a.audit.logFailure(AuditRegisterFailure, r, err.Error())
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditRegister, r, info.Email)
	writeJSON(w, http.StatusOK, UserInfo{ID: info.ID, Email: info.Email})
}

// Login handles POST /login. On success the session cookie is set.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.CSRF().ValidateRequest(r); err != nil {
		a.rejectRequest(w, r, err)
		return
	}
	req, ok := decodeJSON[UserBody](w, r)
	if !ok {
		return
	}

	token, err := a.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			a.audit.logFailure(AuditLoginFailure, r, err.Error())
		}
		a.mapError(w, r, err)
		return
	}

	a.sessions.SetSessionCookie(w, token)
	a.audit.logEvent(AuditLoginSuccess, r, req.Email)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Login successful"})
}

// Logout handles POST /logout. It requires a valid CSRF pair and session
// and clears the session cookie instead of reissuing it.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.CSRF().ValidateRequest(r); err != nil {
		a.rejectRequest(w, r, err)
		return
	}
	subject, err := a.sessions.Verify(auth.SessionCookie(r))
	if err != nil {
		a.rejectRequest(w, r, err)
		return
	}

	a.sessions.ClearSessionCookie(w)
	a.audit.logEvent(AuditLogout, r, subject)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logout successful"})
}

// CurrentUser handles GET /user. The session cookie has already been
// reissued by RequireSession.
func (a *API) CurrentUser(w http.ResponseWriter, r *http.Request) {
	info, err := a.users.Lookup(r.Context(), subjectFromContext(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserInfo{ID: info.ID, Email: info.Email})
}
