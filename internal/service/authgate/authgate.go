// Package authgate decides, per request, whether an API key may reach the
// market-data endpoints. A denial always carries one of three reasons:
// no key presented, key unknown or revoked, or key valid but without an
// access-granting subscription.
package authgate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/util"
)

// Reinitializer restores the credential store after a connectivity failure:
// re-create the schema if it is gone and re-seed the statically configured
// bootstrap keys.
type Reinitializer interface {
	Reinitialize(ctx context.Context) error
}

// Principal identifies the caller admitted through the gate.
type Principal struct {
	KeyID     int64
	AccountID int64
	Label     string

	// Bootstrap principals belong to the system account and bypass the
	// subscription check.
	Bootstrap bool
}

type Service struct {
	keys          apikey.Repository
	accounts      account.Repository
	subscriptions subscription.Repository
	reinit        Reinitializer
	staticKeys    []string
	recovery      singleflight.Group
	logger        *zap.Logger
}

func NewService(
	keys apikey.Repository,
	accounts account.Repository,
	subscriptions subscription.Repository,
	reinit Reinitializer,
	staticKeys []string,
	logger *zap.Logger,
) *Service {
	return &Service{
		keys:          keys,
		accounts:      accounts,
		subscriptions: subscriptions,
		reinit:        reinit,
		staticKeys:    staticKeys,
		logger:        logger.Named("AuthGateService"),
	}
}

// Authorize resolves rawKey to a principal or returns one of the gate's
// denial errors. A store connectivity failure triggers one re-initialization
// and one retry before the request is failed; concurrent requests share a
// single recovery attempt.
func (s *Service) Authorize(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, ierr.ErrMissingAPIKey
	}

	keyHash := util.HashAPIKey(rawKey)

	key, err := s.keys.FindActiveByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, ierr.ErrAPIKeyNotFound) {
			return nil, ierr.ErrInvalidAPIKey
		}

		s.logger.Warn("Credential store lookup failed, re-initializing", zap.Error(err))
		if recoverErr := s.recoverStore(ctx); recoverErr != nil {
			return s.authorizeStatic(rawKey, recoverErr)
		}

		key, err = s.keys.FindActiveByHash(ctx, keyHash)
		if err != nil {
			if errors.Is(err, ierr.ErrAPIKeyNotFound) {
				return nil, ierr.ErrInvalidAPIKey
			}
			return s.authorizeStatic(rawKey, err)
		}
	}

	owner, err := s.accounts.FindByID(ctx, key.AccountID)
	if err != nil {
		if errors.Is(err, ierr.ErrAccountNotFound) {
			s.logger.Error("Active key references missing account",
				zap.Int64("key_id", key.ID),
				zap.Int64("account_id", key.AccountID))
			return nil, ierr.ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("failed to load key owner: %w", err)
	}

	principal := &Principal{
		KeyID:     key.ID,
		AccountID: owner.ID,
		Label:     key.Label,
		Bootstrap: owner.Email == account.BootstrapEmail,
	}

	if !principal.Bootstrap {
		active, err := s.subscriptions.HasActiveForAccount(ctx, owner.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check subscription: %w", err)
		}
		if !active {
			return nil, ierr.ErrSubscriptionInactive
		}
	}

	s.touchLastUsed(key.ID)
	return principal, nil
}

func (s *Service) recoverStore(ctx context.Context) error {
	_, err, _ := s.recovery.Do("reinitialize", func() (any, error) {
		return nil, s.reinit.Reinitialize(ctx)
	})
	return err
}

// authorizeStatic is the last resort when the store stays unreachable after
// recovery: the statically configured bootstrap keys keep working so the
// operator is not locked out of a degraded deployment.
func (s *Service) authorizeStatic(rawKey string, storeErr error) (*Principal, error) {
	for _, configured := range s.staticKeys {
		if subtle.ConstantTimeCompare([]byte(rawKey), []byte(configured)) == 1 {
			s.logger.Warn("Authorized via static bootstrap key, credential store unreachable",
				zap.Error(storeErr))
			return &Principal{Label: "static bootstrap key", Bootstrap: true}, nil
		}
	}
	return nil, fmt.Errorf("credential store unavailable: %w", storeErr)
}

// touchLastUsed records key activity off the request path. Losing an update
// is acceptable; blocking a market-data request on it is not.
func (s *Service) touchLastUsed(keyID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.keys.UpdateLastUsed(ctx, keyID, time.Now().UTC()); err != nil {
			s.logger.Warn("Failed to update key last_used_at",
				zap.Int64("key_id", keyID),
				zap.Error(err))
		}
	}()
}
