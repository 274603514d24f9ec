package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"catalogsync/internal/app"
	"catalogsync/internal/logging"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, version, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	loadEnvFiles()
	logger, _, _ := logging.New(logging.Options{AppName: "catalogsync-migrate", Level: logging.ParseLevel(os.Getenv("LOG_LEVEL"))})

	if err := migrate(*command, *name, logger); err != nil {
		logger.Error("migration failed", slog.String("command", *command), slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(command, name string, logger *slog.Logger) error {
	dir := migrationsDir()
	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if command == "create" {
		if name == "" {
			return fmt.Errorf("name is required for 'create' command")
		}
		if err := goose.Create(nil, dir, name, "sql"); err != nil {
			return err
		}
		logger.Info("migration created", slog.String("name", name), slog.String("dir", dir))
		return nil
	}

	ctx := context.Background()
	pool, err := app.OpenDB(ctx, databaseDSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	switch command {
	case "up":
		err = goose.Up(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "status":
		err = goose.Status(db, dir)
	case "version":
		err = goose.Version(db, dir)
	default:
		return fmt.Errorf("unknown command %q, use: up, down, status, version, create", command)
	}
	if err != nil {
		return err
	}
	logger.Info("migrations done", slog.String("command", command), slog.String("dir", dir))
	return nil
}
