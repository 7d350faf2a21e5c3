package auth

import (
	"net/http"
	"strings"
)

const (
	// SessionCookieName is the cookie carrying the session token.
	SessionCookieName = "access_token"
	// sessionCookieScheme prefixes the token in the cookie value.
	sessionCookieScheme = "Bearer"
)

// SessionManager verifies the session token carried by a request and
// reissues a fresh one, so that an active client keeps its session while
// an idle one is logged out once its last token expires. Expired tokens are
// never extended.
type SessionManager struct {
	tokens *TokenCodec
	csrf   *CSRFProtector
}

// NewSessionManager combines a token codec and a CSRF protector.
func NewSessionManager(tokens *TokenCodec, csrf *CSRFProtector) *SessionManager {
	return &SessionManager{tokens: tokens, csrf: csrf}
}

// Tokens returns the underlying token codec.
func (m *SessionManager) Tokens() *TokenCodec { return m.tokens }

// CSRF returns the underlying CSRF protector.
func (m *SessionManager) CSRF() *CSRFProtector { return m.csrf }

// Verify extracts the token from a "Bearer <token>" cookie value and
// returns its subject. Decode errors are returned unchanged.
func (m *SessionManager) Verify(cookieValue string) (string, error) {
	if cookieValue == "" {
		return "", ErrTokenMissing
	}
	// Everything after the first space is the token; a value without a
	// space yields an empty token, which fails decoding.
	_, token, _ := strings.Cut(cookieValue, " ")
	return m.tokens.Decode(token)
}

// VerifyAndReissue verifies cookieValue and issues a new token for the
// same subject.
func (m *SessionManager) VerifyAndReissue(cookieValue string) (subject, newToken string, err error) {
	subject, err = m.Verify(cookieValue)
	if err != nil {
		return "", "", err
	}
	newToken, err = m.tokens.Encode(subject)
	if err != nil {
		return "", "", err
	}
	return subject, newToken, nil
}

// VerifyWithCSRFAndReissue validates the CSRF pair before touching the
// session token, then behaves like VerifyAndReissue.
func (m *SessionManager) VerifyWithCSRFAndReissue(pair CSRFPair, cookieValue string) (subject, newToken string, err error) {
	if err := m.csrf.Validate(pair); err != nil {
		return "", "", err
	}
	return m.VerifyAndReissue(cookieValue)
}

// SessionCookie returns the raw session cookie value carried by r, or ""
// when there is none.
func SessionCookie(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetSessionCookie writes token as the session cookie.
func (m *SessionManager) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionCookieScheme + " " + token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// ClearSessionCookie overwrites the session cookie with an empty value and
// asks the browser to drop it immediately.
func (m *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
