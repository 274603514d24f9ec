package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logging"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "catalogsync",
	Short: "Synchronize the product catalog with a published spreadsheet",
	Long: `catalogsync reads a CSV export of a spreadsheet and reconciles each row
against the product catalog: known SKUs get their stock and price updated,
unknown SKUs are created when creation is enabled.

Configuration comes from the environment (.env and .env.local are loaded)
or from a catalogsync.yaml file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "maintenance", Title: "Maintenance commands:"})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, builds the engine and hands it to fn.
func withApp(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLogs, err := logging.New(logging.FromConfig(cfg.AppName, cfg.Log))
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
