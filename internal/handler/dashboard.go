package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/domain/usage"
	"github.com/finbridge/marketgate/internal/handler/dto"
	"github.com/finbridge/marketgate/internal/handler/middleware"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/service/accounts"
	"github.com/finbridge/marketgate/internal/service/metering"
)

type DashboardHandler struct {
	accounts      *accounts.Service
	subscriptions subscription.Repository
	metering      *metering.Service
	logger        *zap.Logger
}

func NewDashboardHandler(accountService *accounts.Service, subscriptions subscription.Repository, meteringService *metering.Service, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		accounts:      accountService,
		subscriptions: subscriptions,
		metering:      meteringService,
		logger:        logger.Named("DashboardHandler"),
	}
}

// parseRangeQuery maps the range query parameter onto a window start and the
// trend granularity. Defaults to the last 24 hours.
func parseRangeQuery(c *gin.Context) (string, time.Time, usage.TrendBucket, bool) {
	window := c.DefaultQuery("range", "24h")
	now := time.Now().UTC()

	switch window {
	case "24h":
		return window, now.Add(-24 * time.Hour), usage.BucketHour, true
	case "7d":
		return window, now.AddDate(0, 0, -7), usage.BucketDay, true
	case "30d":
		return window, now.AddDate(0, 0, -30), usage.BucketWeek, true
	}

	_ = c.Error(fmt.Errorf("%w: range must be one of 24h, 7d, 30d", ierr.ErrValidation))
	return "", time.Time{}, "", false
}

func (h *DashboardHandler) GetOverview(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := middleware.GetSessionAccountID(c)

	window, since, _, ok := parseRangeQuery(c)
	if !ok {
		return
	}

	acc, err := h.accounts.Get(ctx, accountID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := dto.DashboardOverviewResponse{Email: acc.Email, Range: window}

	sub, err := h.subscriptions.FindCurrentForAccount(ctx, accountID)
	if err != nil && !errors.Is(err, ierr.ErrNotFound) {
		_ = c.Error(err)
		return
	}
	if sub != nil {
		plan := sub.Plan
		status := string(sub.Status)
		resp.Plan = &plan
		resp.Subscription = &status
	}

	keys, err := h.accounts.ListKeys(ctx, accountID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	for _, key := range keys {
		if key.Status == apikey.StatusActive {
			resp.ActiveKeys++
		}
	}

	summary, err := h.metering.Summary(ctx, accountID, since)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp.Requests = summary.Requests
	resp.ErrorRatePct = summary.ErrorRatePct
	resp.P95LatencyMS = summary.P95LatencyMS
	resp.FiveXX = summary.FiveXX

	c.JSON(http.StatusOK, resp)
}

func (h *DashboardHandler) GetMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := middleware.GetSessionAccountID(c)

	window, since, bucket, ok := parseRangeQuery(c)
	if !ok {
		return
	}

	summary, err := h.metering.Summary(ctx, accountID, since)
	if err != nil {
		_ = c.Error(err)
		return
	}

	trend, err := h.metering.Trend(ctx, accountID, since, bucket)
	if err != nil {
		_ = c.Error(err)
		return
	}

	latencies, err := h.metering.LatencyBuckets(ctx, accountID, since)
	if err != nil {
		_ = c.Error(err)
		return
	}

	topEndpoints, err := h.metering.TopEndpoints(ctx, accountID, since, 10)
	if err != nil {
		_ = c.Error(err)
		return
	}

	breakdown, err := h.metering.StatusBreakdown(ctx, accountID, since)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.DashboardMetricsResponse{
		Range:           window,
		Requests:        summary.Requests,
		ErrorRatePct:    summary.ErrorRatePct,
		P95LatencyMS:    summary.P95LatencyMS,
		FiveXX:          summary.FiveXX,
		Trend:           trend,
		LatencyBuckets:  latencies,
		TopEndpoints:    topEndpoints,
		StatusBreakdown: breakdown,
	})
}

// GetSubscription serves the account's current subscription. 404 when no
// checkout has ever completed for the account.
func (h *DashboardHandler) GetSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := middleware.GetSessionAccountID(c)

	sub, err := h.subscriptions.FindCurrentForAccount(ctx, accountID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := dto.SubscriptionResponse{
		Plan:   sub.Plan,
		Status: string(sub.Status),
	}
	if sub.CurrentPeriodEnd != nil {
		end := sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		resp.CurrentPeriodEnd = &end
	}
	c.JSON(http.StatusOK, resp)
}
