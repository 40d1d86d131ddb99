package usage

import "time"

// UsageLog rows are append-only. Endpoint holds the route template
// ("/v1/quote/:symbol"), not the literal path, so per-endpoint aggregation is
// independent of parameter values.
type UsageLog struct {
	ID         int64     `db:"id"`
	APIKeyID   int64     `db:"api_key_id"`
	Endpoint   string    `db:"endpoint"`
	StatusCode int       `db:"status_code"`
	ResponseMS int64     `db:"response_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

type EndpointStat struct {
	Endpoint string  `json:"path"`
	Requests int64   `json:"requests"`
	ErrorPct float64 `json:"errorPct"`
	P95MS    int64   `json:"p95Ms"`
}

type StatusBucket struct {
	Class    string  `json:"status"`
	Requests int64   `json:"requests"`
	Pct      float64 `json:"pct"`
}

// TrendPoint is one time bucket of request volume.
type TrendPoint struct {
	Bucket   time.Time `json:"bucket"`
	Requests int64     `json:"requests"`
}

// LatencyBucket groups requests by response-time band.
type LatencyBucket struct {
	Band     string  `json:"bucket"`
	Requests int64   `json:"requests"`
	Pct      float64 `json:"pct"`
}

// LatencyBand maps a latency to the fixed band the dashboard reports.
func LatencyBand(ms int64) string {
	switch {
	case ms <= 100:
		return "0-100ms"
	case ms <= 250:
		return "101-250ms"
	case ms <= 500:
		return "251-500ms"
	default:
		return ">500ms"
	}
}
