package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/storage"
	"github.com/stlehmann/qthmi.ads/internal/system"
)

func main() {
	configPath := pflag.StringP("config", "c", envOr("QTHMI_CONFIG", "configs/config.yaml"), "path to the config file")
	pflag.Parse()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))
	if cfg.Auth.Enabled && !cfg.Auth.IsProductionReady() {
		logger.Warn("Using development JWT secret",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}

	ctx := context.Background()

	// PostgreSQL nur wenn konfiguriert
	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to create schema", zap.Error(err))
		}
		logger.Info("Database connected successfully")

		if cfg.Auth.Enabled {
			created, err := db.SeedUsers(ctx, cfg.Auth.Users)
			if err != nil {
				logger.Fatal("Failed to seed users", zap.Error(err))
			}
			if created > 0 {
				logger.Info("Users created from config", zap.Int("count", created))
			}
		}
	}

	lifecycle, err := system.NewLifecycleManager(cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	if err := lifecycle.Start(ctx); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("qthmi.ads started successfully",
		zap.String("screen", cfg.Screens.Default),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort))

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("qthmi.ads stopped successfully")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
