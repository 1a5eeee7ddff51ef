package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/repository"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/util"
)

const (
	tokenIssuer       = "garden-relay"
	minPasswordLength = 8
	maxPasswordLength = 72
	maxDisplayName    = 64
)

// Claims are carried by login tokens. The subject is the normalized email.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type LoginResult struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type AuthService struct {
	users   repository.UserRepository
	revoked RevocationStore
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewAuthService builds the service. revoked may be nil, in which case
// logout does not invalidate outstanding tokens.
func NewAuthService(users repository.UserRepository, revoked RevocationStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		users:   users,
		revoked: revoked,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *AuthService) Signup(ctx context.Context, email, password, displayName string) (*LoginResult, error) {
	email = session.NormalizeIdentity(email)
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be a valid email address")
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return nil, apperrors.InvalidInput("password", fmt.Sprintf("must be %d-%d characters", minPasswordLength, maxPasswordLength))
	}
	if displayName == "" {
		displayName = email
	}
	if !util.IsValidName(displayName, maxDisplayName) {
		return nil, apperrors.InvalidInput("displayName", fmt.Sprintf("must be at most %d characters", maxDisplayName))
	}

	exists, err := s.users.Exists(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if exists {
		return nil, apperrors.AlreadyExists("account")
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, apperrors.Internal("failed to hash password").WithCause(err)
	}

	user, err := s.users.Create(ctx, model.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	return s.issue(user)
}

// Login verifies credentials. Unknown emails and wrong passwords take the
// same bcrypt path and return the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = session.NormalizeIdentity(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		util.BurnPasswordCheck(password)
		return nil, apperrors.InvalidCredentials()
	}
	if !util.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperrors.InvalidCredentials()
	}

	return s.issue(user)
}

// LoginWithToken resumes a session from a previously issued token. The
// returned result carries the original token and expiry.
func (s *AuthService) LoginWithToken(ctx context.Context, token string) (*LoginResult, error) {
	claims, err := s.ParseToken(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.InvalidToken("account no longer exists")
	}

	return &LoginResult{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Token:       token,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes token if one is given. Invalid tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" || s.revoked == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		log.Warn().Err(err).Str("identity", claims.Subject).Msg("failed to revoke token")
		return apperrors.Internal("failed to revoke token").WithCause(err)
	}
	return nil
}

// ParseToken validates signature, expiry and revocation.
func (s *AuthService) ParseToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, apperrors.InvalidToken("token is invalid or expired")
	}

	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			log.Warn().Err(err).Msg("revocation check failed, rejecting token")
			return nil, apperrors.InvalidToken("token could not be verified")
		}
		if revoked {
			return nil, apperrors.InvalidToken("token has been revoked")
		}
	}

	return claims, nil
}

func (s *AuthService) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("malformed claims")
	}
	return claims, nil
}

func (s *AuthService) issue(user *model.User) (*LoginResult, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		DisplayName: user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, apperrors.Internal("failed to sign token").WithCause(err)
	}

	return &LoginResult{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Token:       signed,
		ExpiresAt:   expiresAt.Truncate(time.Second),
	}, nil
}
