// Command worker runs one crawl and exits, for cron jobs and backfills.
//
// It never schedules. Periodic crawls belong to cmd/api, which owns the
// in-process run state; do not point a worker at the same database while
// an API crawl is in progress.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ETAnderson/pricewatch/internal/app"
	"github.com/ETAnderson/pricewatch/internal/config"
	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/ETAnderson/pricewatch/internal/logging"
)

func main() {
	pages := flag.Int("pages", crawl.DefaultMaxPages, "page limit (-1 for no limit)")
	flag.Parse()

	cfg := config.Load()
	logger, logCloser := logging.NewLogger("worker-service ", cfg.LogFile)
	defer logCloser.Close()

	logger.Printf("ENV=%q STATE_BACKEND=%q DB_DSN_set=%v", cfg.Env, cfg.StateBackend, cfg.MySQLDSN != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Printf("init failed: %v", err)
		os.Exit(1)
	}

	res, err := runOnce(ctx, a, *pages)
	_ = a.Close()
	if err != nil {
		logger.Printf("crawl failed: %v", err)
		os.Exit(1)
	}
	logger.Printf("crawl %s finished status=%s pages=%d received=%d new=%d changed=%d",
		res.RunID, res.Status, res.Pages, res.Received, res.New, res.Changed)
}

func runOnce(ctx context.Context, a *app.App, pages int) (crawl.RunResult, error) {
	return a.Control.Orchestrator.RunWith(ctx, crawl.RunOptions{Trigger: "cli", MaxPages: pages})
}
