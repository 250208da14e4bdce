package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pv/scada-bridge/internal/api"
	"github.com/pv/scada-bridge/internal/config"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/scada"
	"github.com/pv/scada-bridge/internal/tag"
)

func main() {
	cfg := config.Parse()

	// Initialize logger
	logger.Init(cfg.LogFormat, config.ParseLogLevel(cfg.LogLevel))

	// Load tag catalog
	var registry *tag.Registry
	var err error
	if cfg.CatalogFile != "" {
		registry, err = tag.LoadFromFile(cfg.CatalogFile)
		if err != nil {
			logger.Error("Failed to load tag catalog", "file", cfg.CatalogFile, "error", err)
			os.Exit(1)
		}
		logger.Info("Loaded tag catalog", "file", cfg.CatalogFile, "tags", registry.Count())
	} else {
		registry, err = tag.FromDefinitions(tag.DefaultDefinitions())
		if err != nil {
			logger.Error("Failed to build default tag catalog", "error", err)
			os.Exit(1)
		}
		logger.Info("Using built-in tag catalog", "tags", registry.Count())
	}

	// Create the shared service and acquire the main handle
	provider := scada.NewProvider(func() *scada.Service {
		return scada.New(cfg, registry)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := provider.Acquire(ctx)
	if err != nil {
		logger.Error("Failed to start SCADA service", "error", err)
		os.Exit(1)
	}
	defer handle.Release()

	// Create API handlers and server
	handlers := api.NewHandlers(handle.Service())
	server := api.NewServer(handlers)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server,
	}

	go func() {
		logger.Info("Starting server",
			"addr", cfg.Addr,
			"adapter", cfg.Adapter.GetType(),
			"sqlite_path", cfg.History.GetSQLitePath(),
			"tag_retention", cfg.History.GetTagRetention().String(),
		)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
