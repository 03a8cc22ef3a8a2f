// Package main is the entry point for the merchflow API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/merchflow/merchflow/internal/api"
	"github.com/merchflow/merchflow/internal/auth"
	"github.com/merchflow/merchflow/internal/cart"
	"github.com/merchflow/merchflow/internal/config"
	"github.com/merchflow/merchflow/internal/coupon"
	"github.com/merchflow/merchflow/internal/db"
	"github.com/merchflow/merchflow/internal/health"
	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/middleware"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/subscription"
	"github.com/merchflow/merchflow/internal/tracing"
)

const serviceName = "merchflow-api"

// stripeStatusURL is a cheap unauthenticated endpoint for readiness probes.
const stripeStatusURL = "https://status.stripe.com/current"

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Merchflow API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Tracing. Sample everything outside production; production samples 10%.
	samplingRate := 1.0
	if cfg.Env == "production" {
		samplingRate = 0.1
	}
	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: samplingRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Storage
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	orders := order.NewPostgresRepository(conn)
	idemRepo := idempotency.NewPostgresRepository(conn)
	webhookRepo := payment.NewPostgresWebhookRepository(conn)
	subs := subscription.NewPostgresRepository(conn)
	customers := subscription.NewPostgresCustomerRepository(conn)

	// Carts and coupons are sourced from the storefront service in
	// production; this process keeps an in-process view.
	carts := cart.NewInMemoryRepository()
	coupons := coupon.NewInMemoryRepository()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := payment.NewMetrics()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// Rate limiting. Redis keeps the limit coherent across instances; a
	// single instance without Redis falls back to in-process counters.
	var rateLimitStore middleware.RateLimitStore
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		rateLimitStore = memStore
	}

	// Services
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	stripeClient := payment.NewStripeClient(cfg.StripeAPIKey, cfg.ProcessorTimeout())
	executor := idempotency.NewExecutor(idemRepo)
	intentSvc := payment.NewIntentService(orders, stripeClient, paymentMetrics)
	checkoutSvc := payment.NewCheckoutService(carts, coupons, orders, stripeClient, executor, paymentMetrics)
	subSvc := subscription.NewService(subs, customers, stripeClient, executor, paymentMetrics)

	// Idempotency records expire; reap them in the background.
	cleanupStop := make(chan struct{})
	defer close(cleanupStop)
	go idempotency.RunPeriodicCleanup(idemRepo, time.Hour, cfg.IdempotencyRetention(), cleanupStop)

	var redisChecker api.HealthChecker
	if redisClient != nil {
		redisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:        health.NewDBChecker(conn),
		RedisChecker:     redisChecker,
		ProcessorChecker: health.NewProcessorChecker(stripeStatusURL),
	})

	router := api.NewRouter(api.RouterConfig{
		Payments: api.NewPaymentHandlers(intentSvc),
		Checkout: api.NewCheckoutHandlers(checkoutSvc, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL),
		Webhooks: api.NewWebhookHandlers(
			cfg.StripeWebhookSecret, orders, webhookRepo, subSvc,
			api.LoggingFulfiller{}, api.LoggingNotifier{}, paymentMetrics),
		Subscriptions:  api.NewSubscriptionHandlers(subSvc),
		Health:         healthHandlers,
		JWTService:     jwtService,
		RateLimitStore: rateLimitStore,
		PaymentLimit:   middleware.DefaultPaymentLimit(),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// Middleware chain, outermost first: Tracing -> RequestID -> global
	// rate limit -> HTTPMetrics -> Logging.
	handler := middleware.Tracing(serviceName)(
		middleware.RequestID(
			middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(
				middleware.HTTPMetrics(httpMetrics)(
					middleware.Logging(logger)(router)))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracer", "error", err)
	}

	logger.Info("server stopped")
}
