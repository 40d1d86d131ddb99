package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/usage"
)

type UsageRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewUsageRepository(db *pgxpool.Pool, logger *zap.Logger) *UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger.Named("UsageRepository"),
	}
}

var _ usage.Repository = (*UsageRepository)(nil)

func (r *UsageRepository) Insert(ctx context.Context, entry *usage.UsageLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_logs (api_key_id, endpoint, status_code, response_ms)
		VALUES ($1, $2, $3, $4)
	`, entry.APIKeyID, entry.Endpoint, entry.StatusCode, entry.ResponseMS)
	if err != nil {
		return fmt.Errorf("db error inserting usage log: %w", err)
	}
	return nil
}

func (r *UsageRepository) SummaryForAccount(ctx context.Context, accountID int64, since time.Time) (*usage.Summary, error) {
	var s usage.Summary
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(100.0 * COUNT(*) FILTER (WHERE u.status_code >= 400) / NULLIF(COUNT(*), 0), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY u.response_ms), 0)::BIGINT,
			COUNT(*) FILTER (WHERE u.status_code >= 500)
		FROM usage_logs u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.account_id = $1 AND u.created_at >= $2
	`, accountID, since).Scan(&s.Requests, &s.ErrorRatePct, &s.P95LatencyMS, &s.FiveXX)
	if err != nil {
		r.logger.Error("Failed to aggregate usage summary", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error aggregating usage: %w", err)
	}
	return &s, nil
}

func (r *UsageRepository) TopEndpointsForAccount(ctx context.Context, accountID int64, since time.Time, limit int) ([]usage.EndpointStat, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			u.endpoint,
			COUNT(*),
			COALESCE(100.0 * COUNT(*) FILTER (WHERE u.status_code >= 400) / NULLIF(COUNT(*), 0), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY u.response_ms), 0)::BIGINT
		FROM usage_logs u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.account_id = $1 AND u.created_at >= $2
		GROUP BY u.endpoint
		ORDER BY COUNT(*) DESC
		LIMIT $3
	`, accountID, since, limit)
	if err != nil {
		r.logger.Error("Failed to aggregate top endpoints", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error aggregating endpoints: %w", err)
	}
	defer rows.Close()

	var stats []usage.EndpointStat
	for rows.Next() {
		var s usage.EndpointStat
		if err := rows.Scan(&s.Endpoint, &s.Requests, &s.ErrorPct, &s.P95MS); err != nil {
			return nil, fmt.Errorf("db error scanning endpoint stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *UsageRepository) StatusBreakdownForAccount(ctx context.Context, accountID int64, since time.Time) ([]usage.StatusBucket, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			(u.status_code / 100)::INT,
			COUNT(*),
			COALESCE(100.0 * COUNT(*) / NULLIF(SUM(COUNT(*)) OVER (), 0), 0)
		FROM usage_logs u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.account_id = $1 AND u.created_at >= $2
		GROUP BY 1
		ORDER BY 1
	`, accountID, since)
	if err != nil {
		r.logger.Error("Failed to aggregate status breakdown", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error aggregating statuses: %w", err)
	}
	defer rows.Close()

	var buckets []usage.StatusBucket
	for rows.Next() {
		var class int
		var b usage.StatusBucket
		if err := rows.Scan(&class, &b.Requests, &b.Pct); err != nil {
			return nil, fmt.Errorf("db error scanning status bucket: %w", err)
		}
		b.Class = fmt.Sprintf("%dxx", class)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *UsageRepository) TrendForAccount(ctx context.Context, accountID int64, since time.Time, bucket usage.TrendBucket) ([]usage.TrendPoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date_trunc($3, u.created_at), COUNT(*)
		FROM usage_logs u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.account_id = $1 AND u.created_at >= $2
		GROUP BY 1
		ORDER BY 1
	`, accountID, since, string(bucket))
	if err != nil {
		r.logger.Error("Failed to aggregate usage trend", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error aggregating trend: %w", err)
	}
	defer rows.Close()

	var points []usage.TrendPoint
	for rows.Next() {
		var p usage.TrendPoint
		if err := rows.Scan(&p.Bucket, &p.Requests); err != nil {
			return nil, fmt.Errorf("db error scanning trend point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *UsageRepository) LatencyBucketsForAccount(ctx context.Context, accountID int64, since time.Time) ([]usage.LatencyBucket, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			CASE
				WHEN u.response_ms <= 100 THEN '0-100ms'
				WHEN u.response_ms <= 250 THEN '101-250ms'
				WHEN u.response_ms <= 500 THEN '251-500ms'
				ELSE '>500ms'
			END,
			COUNT(*),
			COALESCE(100.0 * COUNT(*) / NULLIF(SUM(COUNT(*)) OVER (), 0), 0)
		FROM usage_logs u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.account_id = $1 AND u.created_at >= $2
		GROUP BY 1
		ORDER BY MIN(u.response_ms)
	`, accountID, since)
	if err != nil {
		r.logger.Error("Failed to aggregate latency buckets", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error aggregating latencies: %w", err)
	}
	defer rows.Close()

	var buckets []usage.LatencyBucket
	for rows.Next() {
		var b usage.LatencyBucket
		if err := rows.Scan(&b.Band, &b.Requests, &b.Pct); err != nil {
			return nil, fmt.Errorf("db error scanning latency bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *UsageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM usage_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		r.logger.Error("Failed to prune usage logs", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, fmt.Errorf("db error pruning usage logs: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
