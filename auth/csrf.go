package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/jmcleod/todoapi/internal/util"
)

const (
	DefaultCSRFCookieName = "csrf_token"
	DefaultCSRFHeaderName = "X-CSRF-Token"
	DefaultCSRFMaxAge     = time.Hour

	csrfTokenBytes = 32
)

// CSRFPair is the two halves of a double-submit CSRF token. Token is the
// plain value the client echoes in a header; Cookie is the signed value
// carried in the CSRF cookie.
type CSRFPair struct {
	Token  string
	Cookie string
}

// CSRFError describes why a CSRF check failed and the HTTP status the
// failure maps to.
type CSRFError struct {
	Status  int
	Message string
}

func (e *CSRFError) Error() string {
	return e.Message
}

func (e *CSRFError) Unwrap() error {
	return ErrCSRF
}

func csrfFailure(msg string) error {
	return &CSRFError{Status: http.StatusUnauthorized, Message: msg}
}

// csrfCookie is the payload signed into the CSRF cookie.
type csrfCookie struct {
	Token    string `json:"t"`
	IssuedAt int64  `json:"iat"`
}

// CSRFProtector generates and validates double-submit CSRF tokens. The
// cookie half is an HMAC-SHA256 signed, timestamped copy of the plain
// token, so a forged cookie cannot be paired with an attacker-chosen
// header value.
type CSRFProtector struct {
	codec      *securecookie.SecureCookie
	cookieName string
	headerName string
	maxAge     time.Duration
	now        func() time.Time
}

// CSRFOption configures a CSRFProtector.
type CSRFOption func(*CSRFProtector)

// WithCSRFMaxAge sets how long a generated pair stays valid.
func WithCSRFMaxAge(d time.Duration) CSRFOption {
	return func(p *CSRFProtector) {
		if d > 0 {
			p.maxAge = d
		}
	}
}

// WithCSRFCookieName overrides DefaultCSRFCookieName.
func WithCSRFCookieName(name string) CSRFOption {
	return func(p *CSRFProtector) {
		if name != "" {
			p.cookieName = name
		}
	}
}

// WithCSRFHeaderName overrides DefaultCSRFHeaderName.
func WithCSRFHeaderName(name string) CSRFOption {
	return func(p *CSRFProtector) {
		if name != "" {
			p.headerName = name
		}
	}
}

// WithCSRFClock sets the time source used for issuing and expiring pairs.
func WithCSRFClock(now func() time.Time) CSRFOption {
	return func(p *CSRFProtector) {
		if now != nil {
			p.now = now
		}
	}
}

// NewCSRFProtector creates a CSRFProtector signing cookies with secret.
func NewCSRFProtector(secret []byte, opts ...CSRFOption) (*CSRFProtector, error) {
	if len(secret) == 0 {
		return nil, errors.New("csrf secret must not be empty")
	}
	codec := securecookie.New(util.CopyBytes(secret), nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	// Expiry is checked against our own clock in Validate.
	codec.MaxAge(0)

	p := &CSRFProtector{
		codec:      codec,
		cookieName: DefaultCSRFCookieName,
		headerName: DefaultCSRFHeaderName,
		maxAge:     DefaultCSRFMaxAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CookieName returns the name of the CSRF cookie.
func (p *CSRFProtector) CookieName() string { return p.cookieName }

// HeaderName returns the request header carrying the plain token.
func (p *CSRFProtector) HeaderName() string { return p.headerName }

// Generate creates a fresh random token and its signed cookie value.
func (p *CSRFProtector) Generate() (CSRFPair, error) {
	token, err := util.RandomToken(csrfTokenBytes)
	if err != nil {
		return CSRFPair{}, fmt.Errorf("generating csrf token: %w", err)
	}
	signed, err := p.codec.Encode(p.cookieName, csrfCookie{Token: token, IssuedAt: p.now().Unix()})
	if err != nil {
		return CSRFPair{}, fmt.Errorf("signing csrf token: %w", err)
	}
	return CSRFPair{Token: token, Cookie: signed}, nil
}

// Validate checks that pair.Cookie is a valid, unexpired signature over
// pair.Token. Failures are returned as *CSRFError.
func (p *CSRFProtector) Validate(pair CSRFPair) error {
	if pair.Cookie == "" {
		return csrfFailure(fmt.Sprintf("Missing Cookie: `%s`.", p.cookieName))
	}
	if pair.Token == "" {
		return csrfFailure(fmt.Sprintf("Bad headers. Expected %q in headers", p.headerName))
	}

	var payload csrfCookie
	if err := p.codec.Decode(p.cookieName, pair.Cookie, &payload); err != nil {
		return csrfFailure("The CSRF token is invalid.")
	}
	if !p.now().Before(time.Unix(payload.IssuedAt, 0).Add(p.maxAge)) {
		return csrfFailure("The CSRF token has expired.")
	}
	if subtle.ConstantTimeCompare([]byte(payload.Token), []byte(pair.Token)) != 1 {
		return csrfFailure("The CSRF signatures do not match.")
	}
	return nil
}

// PairFromRequest reads the header token and the CSRF cookie from r.
// Missing halves are left empty for Validate to report.
func (p *CSRFProtector) PairFromRequest(r *http.Request) CSRFPair {
	pair := CSRFPair{Token: r.Header.Get(p.headerName)}
	if c, err := r.Cookie(p.cookieName); err == nil {
		pair.Cookie = c.Value
	}
	return pair
}

// ValidateRequest is Validate applied to the pair carried by r.
func (p *CSRFProtector) ValidateRequest(r *http.Request) error {
	return p.Validate(p.PairFromRequest(r))
}

// SetCookie writes the signed half of pair as the CSRF cookie.
func (p *CSRFProtector) SetCookie(w http.ResponseWriter, pair CSRFPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.cookieName,
		Value:    pair.Cookie,
		Path:     "/",
		MaxAge:   int(p.maxAge / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
