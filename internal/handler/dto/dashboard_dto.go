package dto

import "github.com/finbridge/marketgate/internal/domain/usage"

type DashboardOverviewResponse struct {
	Email        string  `json:"email"`
	Plan         *string `json:"plan,omitempty"`
	Subscription *string `json:"subscription_status,omitempty"`
	ActiveKeys   int     `json:"active_keys"`

	Range        string  `json:"range"`
	Requests     int64   `json:"requests"`
	ErrorRatePct float64 `json:"error_rate_pct"`
	P95LatencyMS int64   `json:"p95_latency_ms"`
	FiveXX       int64   `json:"five_xx"`
}

type DashboardMetricsResponse struct {
	Range           string                `json:"range"`
	Requests        int64                 `json:"requests"`
	ErrorRatePct    float64               `json:"error_rate_pct"`
	P95LatencyMS    int64                 `json:"p95_latency_ms"`
	FiveXX          int64                 `json:"five_xx"`
	Trend           []usage.TrendPoint    `json:"trend"`
	LatencyBuckets  []usage.LatencyBucket `json:"latency_buckets"`
	TopEndpoints    []usage.EndpointStat  `json:"top_endpoints"`
	StatusBreakdown []usage.StatusBucket  `json:"status_breakdown"`
}

type SubscriptionResponse struct {
	Plan             string  `json:"plan"`
	Status           string  `json:"status"`
	CurrentPeriodEnd *string `json:"current_period_end,omitempty"`
}
