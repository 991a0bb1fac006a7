package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ETAnderson/pricewatch/internal/app"
	"github.com/ETAnderson/pricewatch/internal/config"
	"github.com/ETAnderson/pricewatch/internal/logging"
)

func main() {
	cfg := config.Load()
	logger, logCloser := logging.NewLogger("api-service ", cfg.LogFile)
	defer logCloser.Close()

	logger.Printf("ENV=%q STATE_BACKEND=%q DB_DSN_set=%v", cfg.Env, cfg.StateBackend, cfg.MySQLDSN != "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Printf("init failed: %v", err)
		os.Exit(1)
	}

	handler, err := a.Handler()
	if err != nil {
		logger.Printf("api init failed: %v", err)
		os.Exit(1)
	}

	go func() {
		err := a.Scheduler.Run(ctx)
		if err != nil && err != context.Canceled {
			logger.Printf("scheduler stopped: %v", err)
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("starting (env=%s) on %s", cfg.Env, server.Addr)

		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Printf("server error: %v", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(logger, server, cancel, a)
}

func waitForShutdown(logger interface{ Printf(string, ...any) }, server *http.Server, cancel func(), a *app.App) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Printf("shutdown signal received")

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	_ = server.Shutdown(ctx)
	cancel()
	if err := a.Close(); err != nil {
		logger.Printf("close: %v", err)
	}
	logger.Printf("shutdown complete")
}
