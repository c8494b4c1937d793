package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"careadmin/internal/auth/store/user"
	dErrors "careadmin/pkg/domain-errors"
	"careadmin/pkg/platform/sentinel"
)

// DefaultTokenTTL bounds access token validity. The session inactivity gate is
// the tighter control; this is the hard ceiling.
const DefaultTokenTTL = 8 * time.Hour

// UserStore is the slice of the user store the auth service needs.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*user.User, error)
}

// Service verifies credentials and issues tokens. Session liveness is not its
// concern: the session tracker gates each subsequent request independently.
type Service struct {
	users    UserStore
	jwt      *JWTService
	tokenTTL time.Duration
}

func NewService(users UserStore, jwt *JWTService) *Service {
	return &Service{users: users, jwt: jwt, tokenTTL: DefaultTokenTTL}
}

// Login verifies the credential and returns the user plus a signed token.
// Unknown email and wrong password return the same coded error so callers
// cannot probe for account existence.
func (s *Service) Login(ctx context.Context, email, password string) (*user.User, string, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, "", dErrors.Wrap(dErrors.CodeInternal, "login failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	token, err := s.jwt.GenerateToken(u.ID, u.Name, u.Role, s.tokenTTL)
	if err != nil {
		return nil, "", dErrors.Wrap(dErrors.CodeInternal, "could not issue token", err)
	}
	return u, token, nil
}

// HashPassword creates a bcrypt hash for storage. Used by seeding and by the
// user management surface.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInvalidInput, "could not hash password", err)
	}
	return string(hashed), nil
}
