// internal/service/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paywall-service/internal/domain/user"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/pkg/token"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type UserStore interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, u *user.User) error
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	FindByID(ctx context.Context, id int64) (*user.User, error)
}

type MembershipSeeder interface {
	SeedWithTx(ctx context.Context, tx pgx.Tx, userID int64) error
}

type BlacklistChecker interface {
	Exists(ctx context.Context, contact string) (bool, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// AuthService registers and authenticates users. Registration seeds the
// membership record (status none) in the same commit and refuses
// contacts blacklisted after a chargeback.
type AuthService struct {
	db        TxRunner
	users     UserStore
	members   MembershipSeeder
	blacklist BlacklistChecker
	hasher    PasswordHasher
	tokens    *token.Manager
	logger    *zap.Logger
}

func NewAuthService(
	db TxRunner,
	users UserStore,
	members MembershipSeeder,
	blacklist BlacklistChecker,
	hasher PasswordHasher,
	tokens *token.Manager,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		db:        db,
		users:     users,
		members:   members,
		blacklist: blacklist,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
	}
}

func (s *AuthService) Register(ctx context.Context, req *user.RegisterRequest) (*user.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	banned, err := s.blacklist.Exists(ctx, email)
	if err != nil {
		return nil, err
	}
	if banned {
		s.logger.Warn("registration refused for blacklisted contact", zap.String("email", email))
		return nil, xerrors.ErrBlacklisted
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &user.User{Email: email, PasswordHash: hash}
	err = s.db.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.users.CreateWithTx(ctx, tx, u); err != nil {
			return err
		}
		return s.members.SeedWithTx(ctx, tx, u.ID)
	})
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.Generate(u.ID, u.Email)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", u.ID))
	return &user.AuthResponse{Token: tok, User: u}, nil
}

func (s *AuthService) Login(ctx context.Context, req *user.LoginRequest) (*user.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrUnauthorized
		}
		return nil, err
	}

	if err := s.hasher.Compare(u.PasswordHash, req.Password); err != nil {
		return nil, xerrors.ErrUnauthorized
	}

	tok, err := s.tokens.Generate(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return &user.AuthResponse{Token: tok, User: u}, nil
}

// ValidateToken verifies a bearer token and returns its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*token.Claims, error) {
	return s.tokens.Verify(tokenStr)
}
