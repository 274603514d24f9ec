package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logging"
)

const resubscribeDelay = 5 * time.Second

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

	logger, closeLogs, err := logging.New(logging.FromConfig(cfg.AppName+"-worker", cfg.Log))
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{RequireQueue: true})
	if err != nil {
		return err
	}
	defer a.Close()

	host, _ := os.Hostname()
	consumer, err := a.Consumer(fmt.Sprintf("%s-worker-%s-%d", cfg.AppName, host, os.Getpid()))
	if err != nil {
		return err
	}

	logger.Info("worker consuming", slog.String("queue", cfg.QueueName), slog.Int("prefetch", cfg.WorkerPrefetch))
	for {
		err := consumer.Run(ctx)
		if ctx.Err() != nil {
			break
		}
		// The connection manager redials in the background.
		logger.Warn("consumer interrupted, resubscribing", slog.Any("error", err), slog.Duration("after", resubscribeDelay))
		select {
		case <-ctx.Done():
		case <-time.After(resubscribeDelay):
		}
	}
	logger.Info("worker stopped")
	return nil
}
