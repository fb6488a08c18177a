package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/api"
	"github.com/postwatch/postwatch/internal/clock/system"
	"github.com/postwatch/postwatch/internal/config"
	"github.com/postwatch/postwatch/internal/logging"
	"github.com/postwatch/postwatch/internal/metrics"
	"github.com/postwatch/postwatch/internal/monitor"
	"github.com/postwatch/postwatch/internal/notify"
	"github.com/postwatch/postwatch/internal/store"
	apistrategy "github.com/postwatch/postwatch/internal/strategy/api"
	"github.com/postwatch/postwatch/internal/strategy/browser"
	"github.com/postwatch/postwatch/internal/strategy/feed"
)

// app holds the wired components shared by the run, test, and notify
// commands.
type app struct {
	manager    *config.Manager
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	fetcher    *monitor.Fetcher
	dispatcher *notify.Desktop
	clock      system.Clock
}

func buildApp() (*app, error) {
	manager := config.NewManager(configPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics.Init()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clock := system.New()
	strategies := []monitor.Strategy{
		browser.New(browser.Config{}, clock, logger.Named("browser")),
		apistrategy.New(apistrategy.Config{}, clock, logger.Named("api")),
		feed.New(feed.Config{}, clock, logger.Named("feed")),
	}

	return &app{
		manager:    manager,
		cfg:        cfg,
		logger:     logger,
		store:      st,
		fetcher:    monitor.NewFetcher(strategies, clock, logger),
		dispatcher: notify.NewDesktop(cfg.NotificationTimeout(), logger),
		clock:      clock,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) accounts() []monitor.Account {
	configured := a.manager.Accounts()
	accounts := make([]monitor.Account, len(configured))
	for i, c := range configured {
		accounts[i] = monitor.Account{Username: c.Username, Cursor: c.LastSeenID}
	}
	return accounts
}

func runMonitor(parent context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	accounts := a.accounts()
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts configured; add one with %q", "postwatch add <username>")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := monitor.NewPoller(
		a.fetcher,
		a.store,
		a.dispatcher,
		a.manager,
		a.clock,
		accounts,
		monitor.PollerConfig{
			Interval: a.cfg.CheckInterval(),
			MaxPosts: a.cfg.MaxPostsPerCheck,
		},
		a.logger,
	)

	var apiServer *http.Server
	if a.cfg.APIAddr != "" {
		apiServer = &http.Server{
			Addr:              a.cfg.APIAddr,
			Handler:           api.NewServer(a.store, a.logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("api listening", zap.String("addr", a.cfg.APIAddr))
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("api server failed", zap.Error(err))
			}
		}()
	}

	poller.Start(ctx)
	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	poller.Stop()

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("api shutdown failed", zap.Error(err))
		}
	}
	return nil
}
