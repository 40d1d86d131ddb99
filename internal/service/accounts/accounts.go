// Package accounts covers self-service account management: registration,
// session login and the dashboard's API-key lifecycle (create, rotate,
// revoke, re-activate).
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/util"
)

type Service struct {
	accounts account.Repository
	keys     apikey.Repository
	cfg      *config.AuthConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(accounts account.Repository, keys apikey.Repository, cfg *config.AuthConfig, logger *zap.Logger) *Service {
	return &Service{
		accounts: accounts,
		keys:     keys,
		cfg:      cfg,
		logger:   logger.Named("AccountService"),
		now:      time.Now,
	}
}

func (s *Service) Register(ctx context.Context, email, password string) (*account.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	acc := &account.Account{
		Email:        email,
		PasswordHash: string(hash),
	}
	id, err := s.accounts.Create(ctx, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id

	s.logger.Info("Account registered", zap.Int64("account_id", id))
	return acc, nil
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Login verifies credentials and issues a signed session token. Unknown email
// and wrong password are deliberately indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ierr.ErrAccountNotFound) {
			return "", ierr.ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ierr.ErrInvalidCredentials
	}

	now := s.now()
	claims := sessionClaims{
		Email: acc.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(acc.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// ValidateToken returns the account ID the session token was issued for.
func (s *Service) ValidateToken(rawToken string) (int64, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed subject", ierr.ErrInvalidToken)
	}
	return accountID, nil
}

func (s *Service) Get(ctx context.Context, accountID int64) (*account.Account, error) {
	return s.accounts.FindByID(ctx, accountID)
}

// CreateKey mints a new key for the account. The raw secret is returned
// exactly once and never stored.
func (s *Service) CreateKey(ctx context.Context, accountID int64, label string) (string, *apikey.APIKey, error) {
	if label == "" {
		label = "API key"
	}

	rawKey, keyHash, err := util.GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}

	key := &apikey.APIKey{
		KeyHash:   keyHash,
		AccountID: accountID,
		Label:     label,
		Status:    apikey.StatusActive,
	}
	id, err := s.keys.Create(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}
	key.ID = id

	s.logger.Info("API key created", zap.Int64("account_id", accountID), zap.Int64("key_id", id))
	return rawKey, key, nil
}

func (s *Service) ListKeys(ctx context.Context, accountID int64) ([]*apikey.APIKey, error) {
	return s.keys.ListByAccount(ctx, accountID)
}

// RotateKey revokes the given key and mints a replacement under the same
// label. The old secret stops working the moment this returns.
func (s *Service) RotateKey(ctx context.Context, accountID, keyID int64) (string, *apikey.APIKey, error) {
	old, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		return "", nil, err
	}
	if old.AccountID != accountID {
		return "", nil, ierr.ErrAPIKeyNotFound
	}

	if err := s.keys.UpdateStatus(ctx, keyID, accountID, apikey.StatusRevoked); err != nil {
		return "", nil, err
	}

	rawKey, replacement, err := s.CreateKey(ctx, accountID, old.Label)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("API key rotated",
		zap.Int64("account_id", accountID),
		zap.Int64("old_key_id", keyID),
		zap.Int64("new_key_id", replacement.ID))
	return rawKey, replacement, nil
}

func (s *Service) RevokeKey(ctx context.Context, accountID, keyID int64) error {
	return s.keys.UpdateStatus(ctx, keyID, accountID, apikey.StatusRevoked)
}

func (s *Service) ActivateKey(ctx context.Context, accountID, keyID int64) error {
	return s.keys.UpdateStatus(ctx, keyID, accountID, apikey.StatusActive)
}
