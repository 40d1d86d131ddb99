// Package metering records per-key usage and serves the dashboard's
// aggregates over it.
package metering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/usage"
)

type Service struct {
	repo          usage.Repository
	retentionDays int
	logger        *zap.Logger
	now           func() time.Time

	// recorded, when set, is signalled after each background insert. Tests
	// use it to wait without sleeping.
	recorded chan struct{}
}

func NewService(repo usage.Repository, retentionDays int, logger *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		retentionDays: retentionDays,
		logger:        logger.Named("MeteringService"),
		now:           time.Now,
	}
}

// Record persists one usage event off the request path. A lost event must
// never fail or slow down the market-data response, so errors are only
// logged.
func (s *Service) Record(keyID int64, endpoint string, statusCode int, elapsed time.Duration) {
	if keyID == 0 {
		// Static-fallback principals have no stored key to attribute to.
		return
	}

	// Latencies are stored in whole milliseconds with a floor of 1.
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	entry := &usage.UsageLog{
		APIKeyID:   keyID,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		ResponseMS: ms,
		CreatedAt:  s.now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repo.Insert(ctx, entry); err != nil {
			s.logger.Warn("Failed to record usage",
				zap.Int64("api_key_id", keyID),
				zap.String("endpoint", endpoint),
				zap.Error(err))
		}
		if s.recorded != nil {
			s.recorded <- struct{}{}
		}
	}()
}

func (s *Service) Summary(ctx context.Context, accountID int64, since time.Time) (*usage.Summary, error) {
	return s.repo.SummaryForAccount(ctx, accountID, since)
}

func (s *Service) TopEndpoints(ctx context.Context, accountID int64, since time.Time, limit int) ([]usage.EndpointStat, error) {
	return s.repo.TopEndpointsForAccount(ctx, accountID, since, limit)
}

func (s *Service) StatusBreakdown(ctx context.Context, accountID int64, since time.Time) ([]usage.StatusBucket, error) {
	return s.repo.StatusBreakdownForAccount(ctx, accountID, since)
}

func (s *Service) Trend(ctx context.Context, accountID int64, since time.Time, bucket usage.TrendBucket) ([]usage.TrendPoint, error) {
	return s.repo.TrendForAccount(ctx, accountID, since, bucket)
}

func (s *Service) LatencyBuckets(ctx context.Context, accountID int64, since time.Time) ([]usage.LatencyBucket, error) {
	return s.repo.LatencyBucketsForAccount(ctx, accountID, since)
}

// Prune drops usage rows older than the retention window. Runs from the
// background worker, not the request path.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage logs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Pruned usage logs",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
