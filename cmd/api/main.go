// Package main is the entry point for the Pulseboard billing API server.
//
// It loads configuration, connects to Postgres and SQS, builds the Stripe and
// identity clients, wires the webhook processing pipeline (dedup ledger,
// dispatch table, lifecycle handlers) and the checkout/portal endpoints, and
// serves HTTP with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pulseboard/internal/api/handlers"
	"pulseboard/internal/billing"
	"pulseboard/internal/config"
	"pulseboard/internal/core"
	"pulseboard/internal/db"
	"pulseboard/internal/external"
	"pulseboard/internal/queue"
)

// startupTimeout bounds initial resource acquisition (DB pool, AWS config).
const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("pulseboard billing API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// Database pool.
	pool, err := db.NewPool(startupCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	// SQS client for the notifications queue. EndpointURL is only set for
	// LocalStack in local development.
	awsCfg, err := awsconfig.LoadDefaultConfig(startupCtx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	notifier := queue.NewNotifier(sqsClient, cfg.AWS, logger)

	// Outbound HTTP clients (Stripe, identity provider).
	httpClient := &http.Client{Timeout: 15 * time.Second}
	stripeClient := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey: cfg.Stripe.SecretKey.Unmask(),
		Logger:    logger,
	})
	identityClient := external.NewIdentityClient(httpClient, external.IdentityClientConfig{
		BaseURL: cfg.Identity.BaseURL,
		Logger:  logger,
	})

	// Repositories.
	webhookEvents := db.NewWebhookEventRepo(pool, logger)
	customers := db.NewCustomerRepo(pool, logger)
	subscriptions := db.NewSubscriptionRepo(pool, logger)
	invoices := db.NewInvoiceRepo(pool, logger)
	paymentMethods := db.NewPaymentMethodRepo(pool, logger)
	entitlements := db.NewEntitlementRepo(pool, logger)

	// Webhook processing pipeline: lifecycle handlers behind the dispatch
	// table, fronted by the dedup ledger.
	catalog := billing.NewCatalog(cfg.Stripe)
	lifecycle := billing.NewHandlers(billing.HandlersConfig{
		Customers:           customers,
		Subscriptions:       subscriptions,
		Invoices:            invoices,
		PaymentMethods:      paymentMethods,
		Entitlements:        entitlements,
		Notifier:            notifier,
		Catalog:             catalog,
		Logger:              logger,
		NotifyFailuresFatal: cfg.Stripe.NotifyFailuresFatal,
	})
	dispatcher := billing.NewDispatcher(lifecycle, logger)
	processor := billing.NewProcessor(webhookEvents, dispatcher, logger)

	// HTTP server chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = identityClient
	srv.HealthProbes = append(srv.HealthProbes, &db.PoolHealthProbe{Pool: pool})
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		processor,
		cfg.Stripe.WebhookSecret.Unmask(),
		logger,
	)
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars, webhookHandler.RegisterRoutes)

	billingHandler := handlers.NewBillingHandler(
		stripeClient,
		customers,
		catalog,
		cfg,
		srv.Validator,
		logger,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, billingHandler.RegisterRoutes)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release server resources (DB pool, queue clients).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
