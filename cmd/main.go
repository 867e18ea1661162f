package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"assetlibrary/internal/app"
	"assetlibrary/internal/config"
	"assetlibrary/internal/handler"
	"assetlibrary/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Relay != nil {
		go func() {
			if err := a.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event relay stopped", zap.Error(err))
			}
		}()
	}

	// First pass at startup repairs whatever a crashed session left behind.
	if report, err := a.Reconciler.Reconcile(ctx); err != nil {
		log.Error("startup reconciliation failed", zap.Error(err))
	} else {
		log.Info("startup reconciliation done",
			zap.Int("synced", report.Synced),
			zap.Int("stale_removed", len(report.StaleRemoved)),
			zap.Int("archived", len(report.Archived)))
	}
	go a.Reconciler.Run(ctx, cfg.Library.ReconcileInterval)
	if a.Mirror != nil {
		go a.Mirror.Run(ctx, cfg.Library.MirrorInterval)
	}

	handlers := handler.Handlers{
		Versions:  handler.NewVersionHandler(a.Versions, a.Cold, a.Authority, log),
		Lifecycle: handler.NewLifecycleHandler(a.Retire, a.Refs, a.Reconciler, a.Mirror, log),
		Folders:   handler.NewFolderHandler(a.Folders, log),
		Admin:     handler.NewAdminHandler(a.Usage, a.Authority, log),
		Events:    handler.NewEventsHandler(a.Bus, log),
	}
	if a.Session != nil {
		handlers.Bridge = handler.NewBridgeHandler(a.Session, log)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: handler.NewRouter(handlers, log),
		// event streams end with the signal context instead of holding shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server",
			zap.String("addr", httpServer.Addr),
			zap.String("library", cfg.Library.Root),
			zap.String("database", cfg.Database.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited properly")
	return nil
}
