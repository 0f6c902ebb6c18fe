package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"epex-trade-report/internal/aggregator"
	"epex-trade-report/internal/api"
	"epex-trade-report/internal/config"
	"epex-trade-report/internal/database"
	"epex-trade-report/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the ledger database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.CheckLedger(db, cfg.Ledger.Table); err != nil {
		log.Fatal("Ledger not available", zap.Error(err))
	}
	log.Info("Ledger ready", zap.String("table", cfg.Ledger.Table))

	agg := aggregator.NewAggregator(db, cfg.Ledger.Table, log)
	server := api.NewServer(cfg.Server.Port, api.NewAPIHandler(log, agg), log)
	errCh := server.Start()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigchan:
		log.Info("Shutdown signal received, gracefully shutting down...")
	case err := <-errCh:
		log.Fatal("Web server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	log.Info("Server has been shut down.")
}
