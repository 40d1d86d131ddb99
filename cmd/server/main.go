package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finbridge/marketgate/internal/cache"
	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/handler"
	"github.com/finbridge/marketgate/internal/handler/middleware"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/market"
	"github.com/finbridge/marketgate/internal/metrics"
	"github.com/finbridge/marketgate/internal/service/accounts"
	"github.com/finbridge/marketgate/internal/service/authgate"
	"github.com/finbridge/marketgate/internal/service/billing"
	"github.com/finbridge/marketgate/internal/service/marketdata"
	"github.com/finbridge/marketgate/internal/service/metering"
	"github.com/finbridge/marketgate/internal/storage/postgres"
	"github.com/finbridge/marketgate/internal/storage/redis"
	"github.com/finbridge/marketgate/internal/worker"
	"github.com/finbridge/marketgate/pkg/logger"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := postgres.NewPgxPool(appCtx, &cfg.Database, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbPool.Close()

	redisClient, err := redis.NewRedisClient(appCtx, &cfg.Redis, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	bootstrapper := postgres.NewBootstrapper(dbPool, cfg.API.BootstrapKeys(), appLogger)
	if err := bootstrapper.Reinitialize(appCtx); err != nil {
		sugarLogger.Fatalf("Failed to bootstrap credential store: %v", err)
	}

	accountRepo := postgres.NewAccountRepository(dbPool, appLogger)
	apiKeyRepo := postgres.NewAPIKeyRepository(dbPool, appLogger)
	subscriptionRepo := postgres.NewSubscriptionRepository(dbPool, appLogger)
	usageRepo := postgres.NewUsageRepository(dbPool, appLogger)
	billingStore := postgres.NewBillingStore(dbPool, appLogger)

	appMetrics := metrics.New(prometheus.DefaultRegisterer)
	marketCache := cache.New(cfg.Market.CacheTTL, cfg.Market.StaleWindow)
	provider := market.NewYahooProvider(&cfg.Market, appLogger)

	gateService := authgate.NewService(apiKeyRepo, accountRepo, subscriptionRepo, bootstrapper, cfg.API.BootstrapKeys(), appLogger)
	accountService := accounts.NewService(accountRepo, apiKeyRepo, &cfg.Auth, appLogger)
	billingService := billing.NewService(billingStore, accountRepo, &cfg.Billing, appLogger)
	meteringService := metering.NewService(usageRepo, cfg.Usage.RetentionDays, appLogger)
	marketDataService := marketdata.NewService(provider, marketCache, appMetrics, appLogger)

	healthHandler := handler.NewHealthHandler(dbPool, redisClient, appLogger)
	marketHandler := handler.NewMarketHandler(marketDataService, appLogger)
	billingHandler := handler.NewBillingHandler(billingService, cfg.Billing.StripeWebhookSecret, appLogger)
	accountHandler := handler.NewAccountHandler(accountService, appLogger)
	dashboardHandler := handler.NewDashboardHandler(accountService, subscriptionRepo, meteringService, appLogger)

	apiKeyAuthMiddleware := middleware.APIKeyAuthMiddleware(gateService, appMetrics, appLogger)
	sessionAuthMiddleware := middleware.SessionAuthMiddleware(accountService, appLogger)
	usageMiddleware := middleware.UsageRecorderMiddleware(meteringService, appMetrics)
	rateLimitMiddleware := middleware.RateLimitMiddleware(redisClient, &cfg.RateLimit, appLogger)
	errorMiddleware := middleware.ErrorHandlerMiddleware(appLogger)

	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		appLogger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	corsConfig := cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-API-Key",
			"X-Request-ID",
		},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(errorMiddleware)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/v1/health", healthHandler.Ping)

	marketRoutes := router.Group("/v1")
	marketRoutes.Use(usageMiddleware, apiKeyAuthMiddleware, rateLimitMiddleware)
	{
		marketRoutes.GET("/quote/:symbol", marketHandler.GetQuote)
		marketRoutes.GET("/quotes", marketHandler.GetQuotes)
		marketRoutes.GET("/history/:symbol", marketHandler.GetHistory)
		marketRoutes.GET("/fundamentals/:symbol", marketHandler.GetFundamentals)
	}

	billingRoutes := router.Group("/v1/billing")
	{
		billingRoutes.GET("/plans", billingHandler.GetPlans)
		billingRoutes.POST("/checkout/session", middleware.OptionalSessionAuthMiddleware(accountService, appLogger), billingHandler.CreateCheckoutSession)
		billingRoutes.POST("/webhook/stripe", billingHandler.Webhook)
	}

	accountRoutes := router.Group("/v1/account")
	{
		accountRoutes.POST("/register", accountHandler.Register)
		accountRoutes.POST("/login", accountHandler.Login)
		accountRoutes.GET("/subscription", sessionAuthMiddleware, dashboardHandler.GetSubscription)

		keyRoutes := accountRoutes.Group("/keys")
		keyRoutes.Use(sessionAuthMiddleware)
		{
			keyRoutes.POST("", accountHandler.CreateKey)
			keyRoutes.GET("", accountHandler.ListKeys)
			keyRoutes.POST("/:id/rotate", accountHandler.RotateKey)
			keyRoutes.POST("/:id/revoke", accountHandler.RevokeKey)
			keyRoutes.POST("/:id/activate", accountHandler.ActivateKey)
		}
	}

	dashboardRoutes := router.Group("/v1/dashboard")
	dashboardRoutes.Use(sessionAuthMiddleware)
	{
		dashboardRoutes.GET("/overview", dashboardHandler.GetOverview)
		dashboardRoutes.GET("/metrics", dashboardHandler.GetMetrics)
	}

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	workerErrChan, workerShutdown := worker.RunWorkers(cfg, meteringService, appLogger)

	g.Go(func() error {
		select {
		case err := <-workerErrChan:
			return err
		case <-groupCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
			defer cancel()
			workerShutdown(shutdownCtx)
			return nil
		}
	})

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			sugarLogger.Info("Shutdown reason: Context canceled (likely due to OS signal).")
		} else if errors.Is(waitErr, http.ErrServerClosed) {
			sugarLogger.Info("Shutdown reason: HTTP server closed normally.")
		} else {
			sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
		}
	} else {
		sugarLogger.Info("Application shutdown successfully (all components finished without errors).")
	}

	sugarLogger.Info("Application exiting now.")
}
