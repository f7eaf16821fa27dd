// Package main запускает локальный компаньон сервиса детских книг.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/config"
	"github.com/mmeshcher/storybook-companion/internal/credcache"
	"github.com/mmeshcher/storybook-companion/internal/credits"
	"github.com/mmeshcher/storybook-companion/internal/handler"
	"github.com/mmeshcher/storybook-companion/internal/middleware"
	"github.com/mmeshcher/storybook-companion/internal/printorder"
	"github.com/mmeshcher/storybook-companion/internal/service"
	"github.com/mmeshcher/storybook-companion/internal/session"
	"github.com/mmeshcher/storybook-companion/internal/storage"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	store, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("credential storage initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := credcache.New(store, cfg.CacheSecret, logger.Named("credcache"))

	var machine *session.Machine
	interceptor := middleware.NewUnauthorizedInterceptor(http.DefaultTransport,
		func() bool { return machine.IsAuthenticated() },
		func() bool { return machine.ForcedClear(context.Background()) },
		logger.Named("interceptor"),
	)

	client := api.NewClient(cfg.APIBaseURL,
		api.WithTransport(interceptor),
		api.WithTimeout(cfg.RequestTimeout),
		api.WithRateLimit(cfg.APIRateLimit),
		api.WithTokenSource(func() string { return machine.Token() }),
	)

	ledger := credits.NewLedger(client, logger.Named("credits"))
	machine = session.New(client, cache, ledger, logger.Named("session"))
	machine.Hydrate(ctx)

	wizard := printorder.NewWizard(client, printorder.Rates{
		GBPToUSD: cfg.GBPUSDRate,
		GBPToEUR: cfg.GBPEURRate,
	}, logger.Named("printorder"))

	svc := service.NewService(machine, ledger, wizard, client, store, logger.Named("service"))
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Проверка сессии при старте, как при первом открытии страницы
	g.Go(func() error {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
		machine.BeginSessionCheck(checkCtx)
		return nil
	})

	g.Go(func() error {
		svc.StartBalanceSync(ctx, cfg.BalanceSyncInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting storybook companion", "addr", cfg.RunAddress, "api", cfg.APIBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

// openStore выбирает хранилище кэша: PostgreSQL, если задан DATABASE_URI, иначе файл.
func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURI != "" {
		pg, err := storage.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	return storage.NewFileStore(cfg.StoragePath), nil
}
