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

	"github.com/joho/godotenv"

	"github.com/efreitasn/escrowexchange/internal/bank"
	"github.com/efreitasn/escrowexchange/internal/config"
	"github.com/efreitasn/escrowexchange/internal/custody"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/handler"
	"github.com/efreitasn/escrowexchange/internal/host"
	"github.com/efreitasn/escrowexchange/internal/ledger"
	"github.com/efreitasn/escrowexchange/internal/metrics"
	"github.com/efreitasn/escrowexchange/internal/service"
	"github.com/efreitasn/escrowexchange/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	envFile := flag.String("env", "", "Optional .env file loaded before reading configuration")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("failed to load env file", slog.String("path", *envFile), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ledger. An empty path keeps state in memory.
	ledgerStore, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		logger.Error("failed to open ledger", slog.String("path", cfg.LedgerPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer ledgerStore.Close()

	// Gateways.
	registry := custody.NewRegistry()
	sweeper := custody.NewApprovalSweeper(cfg.ApprovalSweepInterval, registry, logger)
	payments := bank.New()

	m := metrics.New()
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), cfg.WebhookTimeout, logger, m)

	eng := engine.New(cfg.Denom, engine.WithCloseSaleOnTrade(cfg.CloseSaleOnTrade))
	h := host.New(
		host.Config{EngineAddress: cfg.EngineAddress, CustodyAddress: cfg.CustodyAddress},
		ledgerStore, eng, registry, payments, logger,
		host.WithEventSink(webhookSvc),
		host.WithMetrics(m),
	)

	// Gateway state committed by an earlier run.
	if err := h.Restore(); err != nil {
		logger.Error("failed to restore gateways", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sweeper.SetExclusive(h.Exclusive)

	exchangeSvc := service.NewExchangeService(h, ledgerStore)
	custodySvc := service.NewCustodyService(h, registry)
	bankSvc := service.NewBankService(h, payments)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := exchangeSvc.Bootstrap(ctx, cfg.EngineAddress, cfg.CustodyAddress); err != nil {
		logger.Error("failed to instantiate engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := handler.NewRouter(exchangeSvc, custodySvc, bankSvc, webhookSvc, m, logger)

	sweeper.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("engine_address", cfg.EngineAddress),
			slog.String("custody_address", cfg.CustodyAddress),
			slog.String("denom", cfg.Denom),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, then stop the approval sweeper.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
