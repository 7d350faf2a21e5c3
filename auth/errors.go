package auth

import "errors"

var (
	// ErrTokenMissing indicates the request carried no session cookie.
	ErrTokenMissing = errors.New("token is missing")
	// ErrTokenExpired indicates the session token is past its expiry.
	ErrTokenExpired = errors.New("signature has expired")
	// ErrTokenInvalid indicates the session token failed verification for
	// any reason other than expiry.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrCSRF is the base error for every CSRF validation failure.
	ErrCSRF = errors.New("csrf validation failed")
	// ErrWeakPassword is the base error for password policy violations.
	ErrWeakPassword = errors.New("weak password")
	// ErrMalformedHash indicates a stored hash is not a recognized bcrypt hash.
	ErrMalformedHash = errors.New("malformed password hash")
)

// IsAuthenticationError reports whether err is one of the session token
// failures or a CSRF failure. These all surface as HTTP 401.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrTokenMissing) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrCSRF)
}
