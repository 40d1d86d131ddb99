package usage

import (
	"context"
	"time"
)

type Summary struct {
	Requests     int64
	ErrorRatePct float64
	P95LatencyMS int64
	FiveXX       int64
}

// TrendBucket is the granularity the request trend is grouped by. Values
// match what date_trunc accepts.
type TrendBucket string

const (
	BucketHour TrendBucket = "hour"
	BucketDay  TrendBucket = "day"
	BucketWeek TrendBucket = "week"
)

type Repository interface {
	Insert(ctx context.Context, entry *UsageLog) error
	SummaryForAccount(ctx context.Context, accountID int64, since time.Time) (*Summary, error)
	TopEndpointsForAccount(ctx context.Context, accountID int64, since time.Time, limit int) ([]EndpointStat, error)
	StatusBreakdownForAccount(ctx context.Context, accountID int64, since time.Time) ([]StatusBucket, error)
	TrendForAccount(ctx context.Context, accountID int64, since time.Time, bucket TrendBucket) ([]TrendPoint, error)
	LatencyBucketsForAccount(ctx context.Context, accountID int64, since time.Time) ([]LatencyBucket, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
