// Package app assembles the long-lived services shared by the binaries.
package app

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ETAnderson/pricewatch/internal/api/auth"
	"github.com/ETAnderson/pricewatch/internal/api/handlers"
	"github.com/ETAnderson/pricewatch/internal/api/middleware"
	"github.com/ETAnderson/pricewatch/internal/config"
	"github.com/ETAnderson/pricewatch/internal/control"
	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/ingest"
	"github.com/ETAnderson/pricewatch/internal/notify"
	"github.com/ETAnderson/pricewatch/internal/recheck"
	"github.com/ETAnderson/pricewatch/internal/runstate"
	"github.com/ETAnderson/pricewatch/internal/state"
	"github.com/ETAnderson/pricewatch/internal/worker"
)

// dedupeSize bounds the recently-sent alert cache.
const dedupeSize = 4096

type App struct {
	Config    config.Config
	Store     state.Store
	DB        *sql.DB
	Control   *control.Service
	Scheduler *worker.Runner
	Logger    *log.Logger
}

// New opens storage (migrating it when asked), seeds scheduler
// defaults and wires crawl, recheck and control on top.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	res, err := state.NewStore(ctx, state.FactoryConfig{
		Backend:       cfg.StateBackend,
		MySQLDSN:      cfg.MySQLDSN,
		MaxOpenConns:  cfg.DBMaxOpen,
		RunMigrations: cfg.RunMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("state store init: %w", err)
	}
	if res.Migrated {
		logger.Printf("migrations applied")
	}
	store := res.Store

	if err := seedDefaults(ctx, store); err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("seed config: %w", err)
	}

	var sender notify.Sender = notify.NewSMTPSender(notify.SMTPConfig{
		Server:   cfg.SMTP.Server,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		FromName: cfg.SMTP.FromName,
	}, store, logger)
	if cfg.IsDev() && cfg.SMTP.User == "" {
		sender = notify.LogSender{Logger: logger}
	}
	deduped, err := notify.NewDeduper(sender, dedupeSize)
	if err != nil {
		_ = res.Close()
		return nil, err
	}

	client := feed.NewClient(cfg.FeedBaseURL, cfg.FeedTimeout)
	run := runstate.New()
	rec := ingest.NewReconciler(store, deduped, logger)

	orch := &crawl.Orchestrator{
		Store:      store,
		Feed:       client,
		Reconciler: rec,
		RunState:   run,
		Logger:     logger,
	}
	checker := &recheck.Checker{
		Store:      store,
		Verifier:   client,
		Reconciler: rec,
		RunState:   run,
		Logger:     logger,
		Settings: func(ctx context.Context) (feed.Settings, error) {
			s, err := crawl.LoadSettings(ctx, store)
			return s.Feed, err
		},
		Workers: cfg.RecheckWorkers,
	}

	svc := control.NewService(ctx, orch, checker, runstate.NewTasks(), store, logger)
	sched := &worker.Runner{
		Store:     store,
		Trigger:   svc,
		RunState:  run,
		PollEvery: cfg.SchedulerPoll,
		Logger:    logger,
	}
	svc.Scheduler = sched

	return &App{
		Config:    cfg,
		Store:     store,
		DB:        res.DB,
		Control:   svc,
		Scheduler: sched,
		Logger:    logger,
	}, nil
}

// Handler is the control API with request metrics and, outside dev, bearer
// auth on every /v1 route.
func (a *App) Handler() (http.Handler, error) {
	var pub *rsa.PublicKey
	if a.Config.JWTPublicKey != "" {
		k, err := auth.ParseRSAPublicKey(a.Config.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		pub = k
	} else if !a.Config.IsDev() {
		return nil, errors.New("JWT_PUBLIC_KEY is required outside dev")
	}

	mux := http.NewServeMux()
	handlers.Register(mux, handlers.Deps{
		Control: a.Control,
		Runs:    a.Store,
		Config:  a.Store,
		Logger:  a.Logger,
		Protect: func(next http.Handler) http.Handler {
			return middleware.AuthMiddleware{Env: a.Config.Env, PublicKey: pub, Next: next}
		},
	})

	return middleware.Metrics{Logger: a.Logger, Next: mux}, nil
}

// Close stops any crawl, waits for background work, then releases storage.
func (a *App) Close() error {
	a.Control.Stop()
	a.Control.Wait()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func seedDefaults(ctx context.Context, store state.Store) error {
	defaults := []struct {
		key, value, desc string
	}{
		{crawl.KeySchedulerEnabled, "true", "Scheduler enabled"},
		{crawl.KeyScrapeIntervalMinutes, strconv.Itoa(int(crawl.DefaultScrapeInterval.Minutes())), "Scrape interval (minutes)"},
		{crawl.KeyAutoScrapeMaxPages, strconv.Itoa(crawl.DefaultMaxPages), "Max pages per scheduled crawl"},
	}
	for _, d := range defaults {
		_, ok, err := store.GetConfig(ctx, d.key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := store.SetConfig(ctx, d.key, d.value, d.desc); err != nil {
			return err
		}
	}
	return nil
}
