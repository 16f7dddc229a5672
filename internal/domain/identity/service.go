package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medrec/anchor/internal/domain/keys"
	"github.com/medrec/anchor/internal/platform/auth"
)

const minPasswordLength = 12

// KeyIssuer provisions a user's encryption key pair at registration.
type KeyIssuer interface {
	EnsureKeyPair(ctx context.Context, actingUser, userID uuid.UUID) (*keys.Issued, error)
}

// Session is the result of a successful registration or login.
type Session struct {
	Token   string       `json:"token"`
	Profile *Profile     `json:"profile"`
	Keys    *keys.Issued `json:"keys,omitempty"`
}

type Service struct {
	repo   Repository
	tokens *auth.TokenIssuer
	keys   KeyIssuer
}

func NewService(repo Repository, tokens *auth.TokenIssuer, keyIssuer KeyIssuer) *Service {
	return &Service{repo: repo, tokens: tokens, keys: keyIssuer}
}

// Register creates a profile, provisions the user's encryption key pair, and
// returns a session. The private key in the response is the only time the
// server ever hands it out; it is not stored or logged.
func (s *Service) Register(ctx context.Context, email, password, fullName, role string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("identity: a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("identity: password must be at least %d characters", minPasswordLength)
	}
	if role == "" {
		role = RolePatient
	}
	if !validRole(role) {
		return nil, fmt.Errorf("identity: invalid role %q", role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	p := &Profile{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}

	issued, err := s.keys.EnsureKeyPair(ctx, p.ID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: issue keys: %w", err)
	}

	token, err := s.tokens.Issue(p.ID, []string{p.Role})
	if err != nil {
		return nil, fmt.Errorf("identity: issue token: %w", err)
	}
	return &Session{Token: token, Profile: p, Keys: issued}, nil
}

// Login verifies credentials and returns a fresh session token. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := auth.VerifyPassword(password, p.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(p.ID, []string{p.Role})
	if err != nil {
		return nil, fmt.Errorf("identity: issue token: %w", err)
	}
	return &Session{Token: token, Profile: p}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}
