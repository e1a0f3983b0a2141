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

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/certified-builder/api/internal/app"
	"github.com/certified-builder/api/internal/di"
	"github.com/certified-builder/api/internal/handlers"
	"github.com/certified-builder/api/internal/platform/auth"
	"github.com/certified-builder/api/internal/platform/config"
	"github.com/certified-builder/api/internal/platform/idempotency"
	"github.com/certified-builder/api/internal/platform/observability"
	"github.com/certified-builder/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	rt, err := app.Bootstrap(ctx, logger, startedAt)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()
	if err != nil {
		logger.Fatal("failed to initialise runtime", zap.Error(err))
	}
	cfg, buildInfo, svc := rt.Config, rt.Build, rt.Services

	router := newRouter(cfg, logger, rt.Metrics, buildInfo, svc, rt.Idempotency)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	var workers sync.WaitGroup
	if cfg.PubSub.SubscriberEnabled {
		subscriber, err := rt.CompletionSubscriber()
		if err != nil {
			logger.Fatal("failed to initialise completion subscriber", zap.Error(err))
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			subLogger := logger.Named("subscriber").With(zap.String("subscription", cfg.PubSub.CompletionSubscription))
			subLogger.Info("completion subscriber started")
			if err := subscriber.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				subLogger.Error("completion subscriber stopped", zap.Error(err))
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("certificate api listening", zap.String("store", cfg.Store.Driver), zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	workerCancel()
	workers.Wait()
}

func newRouter(cfg config.Config, logger *zap.Logger, metrics *observability.Metrics, build services.BuildInfo, svc di.Services, replay idempotency.Store) http.Handler {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		metrics.Middleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(svc.Intake).Routes),
		handlers.WithProductRoutes(handlers.NewProductHandlers(svc.Certificates, svc.Products).Routes),
		handlers.WithInternalRoutes(handlers.NewPubSubPushHandlers(svc.Events).Routes),
	}
	if cfg.Observability.MetricsEnabled {
		opts = append(opts, handlers.WithMetricsHandler(cfg.Observability.MetricsPath, metrics.Handler()))
	}
	if mw := buildAPIKeyMiddleware(logger.Named("auth"), cfg); mw != nil {
		opts = append(opts, handlers.WithAPIMiddlewares(mw))
	}
	if cfg.Idempotency.Enabled && replay != nil {
		opts = append(opts, handlers.WithAPIMiddlewares(idempotency.Middleware(replay,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		)))
	}
	if mw := buildOIDCMiddleware(logger.Named("auth"), cfg, metrics); mw != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(mw))
	}

	return handlers.NewRouter(opts...)
}

// buildAPIKeyMiddleware guards the public API. Local environments without keys run open.
func buildAPIKeyMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	authenticator, err := auth.NewAPIKeyAuthenticator(cfg.Security.APIKeyHeader, cfg.Security.APIKeys)
	if err != nil {
		if cfg.Security.Environment == "local" {
			logger.Warn("auth: no api keys configured; public routes are unauthenticated")
			return nil
		}
		// a nil authenticator rejects every request with 503
		logger.Error("auth: api keys missing; public routes will reject requests", zap.Error(err))
	}
	return authenticator.RequireAPIKey()
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger), auth.WithOIDCMetrics(metrics))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		issuers = auth.DefaultOIDCIssuers
	}
	return validator.RequireOIDC(auth.OIDCPolicy{
		Audiences: []string{audience},
		Issuers:   issuers,
	})
}
