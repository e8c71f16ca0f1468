package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/server"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx := context.Background()

	// Bootstrap logger until the configured one is built.
	bootstrap, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	loader := config.NewLoader("", bootstrap)
	cfg, err := loader.Load()
	if err != nil {
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		bootstrap.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing, continuing without it", zap.Error(err))
	}

	svc, err := server.NewResearchService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build research service", zap.Error(err))
	}
	svc.Health().Start(health.DefaultCheckInterval)

	// Model routing is hot-reloadable; everything else needs a restart.
	loader.OnChange(svc.ApplyConfig)
	loader.Watch()

	opts := httpapi.RouterOptions{
		Public: []httpapi.RouteRegistrar{health.NewHTTPHandler(svc.Health(), logger)},
	}
	if cfg.Auth.JWTSecret != "" {
		opts.Auth = auth.NewMiddleware(auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0), logger)
		logger.Info("Bearer token authentication enabled", zap.String("issuer", cfg.Auth.Issuer))
	} else {
		logger.Warn("auth.jwt_secret not set, research API is unauthenticated")
	}

	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      httpapi.NewRouter(httpapi.NewResearchHandler(svc.Orchestrator(), logger), opts, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go serve(apiServer, "Research API", logger)

	// Prometheus metrics endpoint on the admin port
	var adminServer *http.Server
	if cfg.Server.AdminPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		adminServer = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Server.AdminPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go serve(adminServer, "Metrics", logger)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down research service", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Research API shutdown failed", zap.Error(err))
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Research service shutdown failed", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Tracing shutdown failed", zap.Error(err))
		}
	}
}

func serve(srv *http.Server, name string, logger *zap.Logger) {
	logger.Info(name+" listening", zap.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(name+" failed", zap.Error(err))
	}
}

// newLogger builds the production JSON logger, or the development console
// logger when logging.format is "console".
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}
