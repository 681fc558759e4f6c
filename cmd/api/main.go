package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/application/middleware"
	"github.com/edlume/subscription-backend/internal/application/query"
	"github.com/edlume/subscription-backend/internal/domain/service"
	"github.com/edlume/subscription-backend/internal/infrastructure/cache"
	"github.com/edlume/subscription-backend/internal/infrastructure/config"
	"github.com/edlume/subscription-backend/internal/infrastructure/external/stripe"
	"github.com/edlume/subscription-backend/internal/infrastructure/logging"
	"github.com/edlume/subscription-backend/internal/infrastructure/persistence/pool"
	"github.com/edlume/subscription-backend/internal/infrastructure/persistence/repository"
	app_handler "github.com/edlume/subscription-backend/internal/interfaces/http/handlers"
	worker_tasks "github.com/edlume/subscription-backend/internal/worker/tasks"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting subscription API server",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Sentry.Environment),
	)

	// Initialize database connection
	ctx := context.Background()
	dbPool, err := pool.NewPool(ctx, cfg.Database)
	if err != nil {
		logging.Logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close(dbPool)

	// Test database connection
	if err := pool.Ping(ctx, dbPool); err != nil {
		logging.Logger.Fatal("Failed to ping database", zap.Error(err))
	}

	// Initialize Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	opts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool)
	recordRepo := repository.NewSubscriptionRecordRepository(dbPool)
	couponRepo := repository.NewCouponRepository(dbPool)
	atomic := repository.NewAtomic(dbPool)

	// Initialize billing provider
	gateway, err := stripe.NewGateway(cfg.Stripe, logging.Logger)
	if err != nil {
		logging.Logger.Fatal("Failed to create billing gateway", zap.Error(err))
	}

	// Initialize cache and task queue
	statusCache := cache.NewEntitlementCache(redisClient, logging.Logger)
	asynqClient := asynq.NewClientFromRedisClient(redisClient)
	defer asynqClient.Close()
	trialNotifier := worker_tasks.NewTrialNotifyEnqueuer(asynqClient)

	// Initialize services
	reconciler := service.NewReconcilerService(atomic, cfg.Stripe.TrialPeriodDays, cfg.Stripe.MultiSeatPriceID, statusCache, trialNotifier, logging.Logger)
	checkoutSvc := service.NewCheckoutService(userRepo, gateway, cfg.Stripe.FrontendURL, cfg.Stripe.TrialPeriodDays, logging.Logger)
	portalSvc := service.NewPortalService(userRepo, gateway, atomic, cfg.Stripe.FrontendURL, statusCache, logging.Logger)
	couponSvc := service.NewCouponService(userRepo, couponRepo, atomic, statusCache, logging.Logger)

	// Initialize queries
	statusQuery := query.NewSubscriptionStatusQuery(userRepo, statusCache, logging.Logger)
	trialQuery := query.NewTrialInfoQuery(userRepo)
	detailsQuery := query.NewSubscriptionDetailsQuery(userRepo, recordRepo)
	debugQuery := query.NewDebugSubscriptionQuery(userRepo, recordRepo, gateway)

	// Initialize middleware
	jwtMiddleware := middleware.NewJWTMiddleware(
		cfg.JWT.Secret,
		redisClient,
		cfg.JWT.AccessTTL,
		cfg.JWT.Issuer,
	)
	rateLimiter := middleware.NewRateLimiter(redisClient, true) // fail open

	// Initialize handlers
	paymentHandler := app_handler.NewPaymentHandler(
		checkoutSvc,
		portalSvc,
		statusQuery,
		trialQuery,
		detailsQuery,
		debugQuery,
	)
	couponHandler := app_handler.NewCouponHandler(couponSvc)
	webhookHandler := app_handler.NewWebhookHandler(gateway, reconciler, logging.Logger)

	// Setup Gin router
	if cfg.Sentry.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
	)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Webhook routes (no auth — verified by signature)
	webhooks := router.Group("/webhook")
	{
		webhooks.POST("/stripe",
			rateLimiter.Middleware(middleware.ByIP, middleware.WebhookConfig),
			webhookHandler.HandleStripeWebhook,
		)
	}

	// API v1 routes
	v1 := router.Group("/v1")
	{
		// Protected routes (require JWT)
		protected := v1.Group("")
		protected.Use(jwtMiddleware.Authenticate())
		{
			payment := protected.Group("/payment")
			payment.POST("/create-checkout-session",
				rateLimiter.Middleware(middleware.ByUserID, middleware.CheckoutConfig),
				paymentHandler.CreateCheckoutSession,
			)
			payment.POST("/create-portal-session", paymentHandler.CreatePortalSession)
			payment.GET("/subscription-status",
				rateLimiter.Middleware(middleware.ByUserID, middleware.PollingConfig),
				paymentHandler.GetSubscriptionStatus,
			)
			payment.GET("/trial-info", paymentHandler.GetTrialInfo)
			payment.GET("/subscription-details", paymentHandler.GetSubscriptionDetails)

			coupons := protected.Group("/coupons")
			coupons.POST("/redeem",
				rateLimiter.Middleware(middleware.ByUserID, middleware.DefaultConfig),
				couponHandler.RedeemCoupon,
			)
			coupons.GET("/mine", couponHandler.ListMyCoupons)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(jwtMiddleware.Authenticate())
		admin.Use(middleware.AdminMiddleware(userRepo, cfg.JWT.Secret))
		{
			admin.GET("/debug-subscription/:userId", paymentHandler.DebugSubscription)
			admin.POST("/cancel-subscription/:userId", paymentHandler.CancelSubscription)
			admin.POST("/coupons", couponHandler.CreateCoupon)
			admin.GET("/coupons", couponHandler.ListCoupons)
			admin.POST("/coupons/grant", couponHandler.GrantAccess)
			admin.DELETE("/coupons/:id", couponHandler.DeleteCoupon)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logging.Logger.Info("Server exited")
}
