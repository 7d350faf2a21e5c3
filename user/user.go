// Package user implements account registration and password
// authentication on top of a storage.Repository.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmcleod/todoapi/auth"
	"github.com/jmcleod/todoapi/storage"
)

const (
	collection    = "user"
	fieldEmail    = "email"
	fieldPassword = "password"
)

var (
	// ErrConflict is returned when registering an email that already exists.
	ErrConflict = errors.New("user already exists")
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password alike, so callers cannot tell which accounts exist.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidInput is returned when a required field is missing.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by Lookup for an unknown email.
	ErrNotFound = errors.New("user not found")
)

// Info is the public view of an account.
type Info struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// account is a stored user including the password hash. It never leaves
// this package.
type account struct {
	ID           string
	Email        string
	PasswordHash string
}

func accountFromDocument(doc *storage.Document) account {
	return account{
		ID:           doc.ID,
		Email:        doc.Get(fieldEmail),
		PasswordHash: doc.Get(fieldPassword),
	}
}

func (a account) info() Info {
	return Info{ID: a.ID, Email: a.Email}
}

// Service implements the register and authenticate use cases.
type Service struct {
	repo   storage.Repository
	hasher *auth.Hasher
	tokens *auth.TokenCodec

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service storing accounts in repo.
func NewService(repo storage.Repository, hasher *auth.Hasher, tokens *auth.TokenCodec) *Service {
	return &Service{repo: repo, hasher: hasher, tokens: tokens}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// Register creates an account for email. It returns ErrConflict when the
// email is taken and a *auth.PolicyViolation when the password is weak.
// Uniqueness is also enforced by the store, so two concurrent
// registrations for the same email cannot both succeed.
func (s *Service) Register(ctx context.Context, email, password string) (Info, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Info{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	_, err := s.repo.FindOne(ctx, collection, fieldEmail, email)
	switch {
	case err == nil:
		return Info{}, ErrConflict
	case !errors.Is(err, storage.ErrNotFound):
		return Info{}, fmt.Errorf("looking up user: %w", err)
	}

	if err := auth.ValidatePassword(password); err != nil {
		return Info{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Info{}, err
	}
	doc, err := s.repo.Insert(ctx, collection, map[string]string{
		fieldEmail:    email,
		fieldPassword: hash,
	}, fieldEmail)
	if errors.Is(err, storage.ErrDuplicate) {
		return Info{}, ErrConflict
	}
	if err != nil {
		return Info{}, fmt.Errorf("storing user: %w", err)
	}
	return accountFromDocument(doc).info(), nil
}

// Authenticate checks email and password and returns a new session token
// for the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	doc, err := s.repo.FindOne(ctx, collection, fieldEmail, email)
	if errors.Is(err, storage.ErrNotFound) {
		// Spend the same bcrypt work as a real comparison.
		s.hasher.Verify(password, s.placeholderHash()) //nolint:errcheck
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("looking up user: %w", err)
	}

	acct := accountFromDocument(doc)
	ok, err := s.hasher.Verify(password, acct.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("verifying password for %s: %w", acct.ID, err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Encode(acct.Email)
}

// Lookup returns the public view of the account registered for email.
func (s *Service) Lookup(ctx context.Context, email string) (Info, error) {
	doc, err := s.repo.FindOne(ctx, collection, fieldEmail, normalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("looking up user: %w", err)
	}
	return accountFromDocument(doc).info(), nil
}

func (s *Service) placeholderHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("placeholder-password")
	})
	return s.dummyHash
}
