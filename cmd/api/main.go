package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalogsync/internal/app"
	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/logging"
	"catalogsync/internal/syncer"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("missing required environment variable: JWT_SECRET")
	}

	logger, closeLogs, err := logging.New(logging.FromConfig(cfg.AppName, cfg.Log))
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Queue: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.InternalSecret == "" {
		logger.Warn("INTERNAL_JOB_SECRET is empty, the scheduler endpoint rejects every call")
	}

	router := newRouter(routerDeps{
		HTTP:      cfg.HTTP,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
		Sync:      syncer.NewHTTPHandler(a.Sync, cfg.InternalSecret, logger),
		Catalog:   catalog.NewHTTPHandler(a.Catalog, logger),
		Metrics:   a.Metrics.Handler(),
		Ready:     a.Ready,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
