package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/NagabhushanAdiga/shop-e/internal/di"
	"github.com/NagabhushanAdiga/shop-e/internal/handlers"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/auth"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/config"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/idempotency"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/observability"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/secrets"
	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

// Set at build time with -ldflags "-X main.version=... -X main.commitSHA=...".
var (
	version   = "dev"
	commitSHA = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shop-e api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver := secrets.NewResolver(ctx, secretProjectID(), secrets.WithLogger(logger.Named("secrets")))
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}
	// LOG_LEVEL may only be present in the .env file.
	if level := cfg.Server.LogLevel; level != "" && level != strings.ToLower(os.Getenv("LOG_LEVEL")) {
		leveled, err := observability.NewLogger(level)
		if err != nil {
			return fmt.Errorf("initialise logger: %w", err)
		}
		defer func() {
			_ = leveled.Sync()
		}()
		logger = leveled.Named("api")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	buildInfo := services.BuildInfo{
		Version:     version,
		CommitSHA:   commitSHA,
		Environment: cfg.Server.Environment,
		StartedAt:   startedAt,
	}

	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(buildInfo))
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()
	logger.Info("storage configured",
		zap.String("backend", cfg.Store.Backend),
		zap.String("ledger", cfg.Store.Ledger),
	)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			idempotency.RunCleanup(cleanupCtx, container.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
		}()
	}

	checkoutGuard := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithOrderIdempotency(checkoutGuard),
		handlers.WithCustomerStats(container.Services.Stats),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLogger(httpLogger),
			observability.Recoverer(httpLogger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(orderHandlers.MeRoutes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("shop-e api listening", zap.String("version", version), zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received; draining requests", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// secretProjectID is read before configuration loads because the resolver is needed to load it.
func secretProjectID() string {
	for _, key := range []string{"SHOP_SECRETS_PROJECT_ID", "SHOP_FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
