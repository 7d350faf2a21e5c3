package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/todoapi/internal/util"
	"github.com/jmcleod/todoapi/internal/uuid"
)

// DefaultTokenTTL is the lifetime of a freshly issued session token.
const DefaultTokenTTL = 5 * time.Minute

var signingMethod = jwt.SigningMethodHS256

// TokenCodec issues and verifies HS256-signed session tokens whose subject
// is the authenticated user's email. The signing secret is held in a
// memguard Enclave and only decrypted for the duration of a sign or verify.
type TokenCodec struct {
	secret *memguard.Enclave
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a TokenCodec signing with secret. The caller's
// slice is left untouched.
func NewTokenCodec(secret []byte, opts ...TokenOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	c := &TokenCodec{
		// NewEnclave wipes its argument.
		secret: memguard.NewEnclave(util.CopyBytes(secret)),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the lifetime of issued tokens.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Encode issues a token for subject with iat = now and exp = now + TTL.
// Each token carries a unique ID so that two tokens issued within the
// same second are still distinct values.
func (c *TokenCodec) Encode(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.New(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}

	key, err := c.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening token secret: %w", err)
	}
	defer key.Destroy()

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(key.Bytes())
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Decode verifies token and returns its subject. It returns ErrTokenExpired
// once now >= exp, and ErrTokenInvalid for every other failure.
func (c *TokenCodec) Decode(token string) (string, error) {
	key, err := c.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening token secret: %w", err)
	}
	defer key.Destroy()

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return key.Bytes(), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.Subject == "":
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims.Subject, nil
}
