package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"optionsproxy/internal/app"
	"optionsproxy/internal/config"
	"optionsproxy/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Bool("robinhoodEnabled", cfg.Providers.Robinhood.Enabled),
		zap.Bool("yahooEnabled", cfg.Providers.Yahoo.Enabled),
		zap.Bool("financegoEnabled", cfg.Providers.FinanceGo.Enabled),
	)

	// Build the provider stack
	stack := app.BuildStack(cfg, logger)
	if len(stack.Providers) == 0 {
		logger.Error("no providers enabled")
		return 1
	}

	srv := server.NewServer(
		stack.Orchestrator,
		stack.Broker,
		stack.BrokerSessions,
		stack.BrokerWindow,
		logger,
	)
	router := server.NewRouter(srv, cfg.Server.StaticDir, logger)

	// Setup HTTP server
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
