// Package main запускает HTTP-сервер биржи тестировщиков.
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

	"github.com/mmeshcher/testermarket/internal/config"
	"github.com/mmeshcher/testermarket/internal/handler"
	"github.com/mmeshcher/testermarket/internal/ledger"
	"github.com/mmeshcher/testermarket/internal/middleware"
	"github.com/mmeshcher/testermarket/internal/repository"
	"github.com/mmeshcher/testermarket/internal/service"
)

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreType {
	case config.StorePostgres:
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	case config.StoreMongo:
		return repository.NewMongoRepository(ctx, cfg.DatabaseURI, cfg.MongoDatabase)
	case config.StoreMemory:
		return repository.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.StoreType)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "store", cfg.StoreType, "error", err.Error())
	}

	systemID, err := cfg.SystemWallet()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	system, err := ledger.ResolveSystemWallet(ctx, store, systemID)
	if err != nil {
		sugar.Fatalw("system wallet error", "error", err.Error())
	}
	sugar.Infow("system wallet ready", "wallet_id", system.ID.String(), "balance", system.Balance.String())

	ledgerSvc := ledger.New(store, system.ID, logger.Named("ledger"))
	svc := service.NewService(store, ledgerSvc, cfg.Rates(), logger.Named("tasks"))
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	capture := middleware.NewCaptureMiddleware(cfg.CaptureSecret)
	if !capture.Enabled() {
		sugar.Warn("CAPTURE_SECRET is not set, payment capture callbacks are rejected")
	}
	h := handler.NewHandler(svc, ledgerSvc, logger, authMiddleware, capture)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting testermarket server", "addr", cfg.RunAddress, "store", cfg.StoreType)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка по сигналу или по ошибке сервера.
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
