// cmd/vhrd/main.go
// Package main implements the entry point for the vehicle history report
// service. It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/certificate"
	"github.com/ClearRego/clearrego-vhr-go/internal/config"
	"github.com/ClearRego/clearrego-vhr-go/internal/event"
	"github.com/ClearRego/clearrego-vhr-go/internal/provider"
	"github.com/ClearRego/clearrego-vhr-go/internal/report"
	"github.com/ClearRego/clearrego-vhr-go/internal/server"
	"github.com/ClearRego/clearrego-vhr-go/internal/storage"
	"github.com/ClearRego/clearrego-vhr-go/internal/telemetry"
)

// main initializes all components, starts the HTTP server, and handles
// graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	_, err = telemetry.InitTracer("vehicle-report-service")
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	// Initialize storage backend (PostgreSQL or in-memory)
	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		store = storage.NewMemory()
	}

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisherFromEnv()
	defer pub.Close()

	// Wire providers: HTTP clients where endpoints are configured, fixtures
	// otherwise in dev. An unconfigured provider outside dev is recorded as
	// a failed source on every report.
	providers := buildProviders(cfg, logger)

	agg := report.New(store, providers, pub, cfg.DedupEnabled)

	// Initialize the S3 client for certificate artifacts when configured
	var certClient certificate.ObjectStore
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		s3Client, err := certificate.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize S3 client", "error", err)
			os.Exit(1)
		}
		certClient = s3Client
	}

	mux := server.NewMux(store, agg, pub, nil, certClient, server.Config{
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		StrictVINChecksum:  cfg.StrictVINChecksum,
		MaxCertSize:        cfg.MaxCertSize,
		AllowedCertTypes:   cfg.AllowedCertTypes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		S3Bucket:           cfg.S3Bucket,
	})

	// Create HTTP server with timeout configuration
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second, // Generation waits on provider fan-out
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	// Close PostgreSQL storage if used
	if postgresStore, ok := store.(interface{ Close() }); ok {
		postgresStore.Close()
	}

	logger.Info("server exited")
}

// buildProviders assembles the provider set from configuration. Response
// payloads from HTTP providers are schema-validated before merging.
func buildProviders(cfg config.Config, logger *slog.Logger) provider.Set {
	validator, err := provider.NewValidator()
	if err != nil {
		logger.Error("failed to initialize provider schema validator", "error", err)
		os.Exit(1)
	}

	var providers provider.Set
	if cfg.PPSRURL != "" {
		providers.PPSR = provider.NewHTTPPPSR(cfg.PPSRURL, cfg.ProviderTimeout, validator)
	}
	if cfg.RegistryURL != "" {
		providers.Registry = provider.NewHTTPRegistry(cfg.RegistryURL, cfg.ProviderTimeout, validator)
	}
	if cfg.ValuationURL != "" {
		providers.Valuation = provider.NewHTTPValuation(cfg.ValuationURL, cfg.ProviderTimeout, validator)
	}

	// Dev mode fills the gaps with fixtures so the service works standalone
	if cfg.Env == "dev" {
		_, ppsr, registry, valuation := provider.FixtureSet()
		if providers.PPSR == nil {
			providers.PPSR = ppsr
			logger.Info("using fixture PPSR provider")
		}
		if providers.Registry == nil {
			providers.Registry = registry
			logger.Info("using fixture registry provider")
		}
		if providers.Valuation == nil {
			providers.Valuation = valuation
			logger.Info("using fixture valuation provider")
		}
	}

	return providers
}
