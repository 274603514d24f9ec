package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"catalogsync/internal/app"
	"catalogsync/internal/runlog"
	"catalogsync/internal/syncer"
)

var runAsync bool

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run a full sync now",
	Long: `Read the configured sheet and reconcile every row.

By default batches are processed in this process. With --async the batches
are published to the queue and applied by catalogsync workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{RequireQueue: runAsync}, func(ctx context.Context, a *app.App) error {
			res, err := a.Sync.Start(ctx, syncer.StartOptions{Async: runAsync})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			return printStart(cmd, res)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the progress of the current or last sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			st, err := a.Sync.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, st)
			}
			printStatus(cmd, st)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:     "stop",
	GroupID: "sync",
	Short:   "Ask the running sync to stop before its next batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if err := a.Sync.Stop(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Synchronization process has been stopped.")
			return nil
		})
	},
}

var tickCmd = &cobra.Command{
	Use:     "tick",
	GroupID: "sync",
	Short:   "Run one scheduler tick",
	Long: `Start a sync when scheduled sync is enabled and nothing is running, then
prune old run logs. Meant to be called from cron or a Kubernetes CronJob.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{Queue: true}, func(ctx context.Context, a *app.App) error {
			res, err := a.Sync.Tick(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if !res.Started {
				fmt.Fprintf(out, "No sync started: %s\n", orDefault(res.Reason, "sheet is empty"))
			} else if err := printStart(cmd, *res.Run); err != nil {
				return err
			}
			fmt.Fprintf(out, "Pruned %d run logs\n", res.Pruned)
			return nil
		})
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:     "runs [id]",
	GroupID: "sync",
	Short:   "List recent sync runs or show one run",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			var runs []runlog.Run
			if len(args) == 1 {
				run, err := a.Sync.Run(ctx, args[0])
				if err != nil {
					return err
				}
				runs = []runlog.Run{*run}
			} else {
				var err error
				if runs, err = a.Sync.Runs(ctx, runsLimit); err != nil {
					return err
				}
			}
			if jsonOutput {
				return printJSON(cmd, runs)
			}
			printRuns(cmd, runs)
			return nil
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:     "prune",
	GroupID: "maintenance",
	Short:   "Delete run logs past retention and expired state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			runs, keys, err := a.Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run logs and %d expired state keys\n", runs, keys)
			return nil
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAsync, "async", false, "publish batches to the queue instead of processing them here")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")

	rootCmd.AddCommand(runCmd, statusCmd, stopCmd, tickCmd, runsCmd, pruneCmd)
}

func printStart(cmd *cobra.Command, res syncer.StartResult) error {
	out := cmd.OutOrStdout()
	switch {
	case res.Empty:
		fmt.Fprintln(out, "No products found in the sheet.")
	case res.Async:
		fmt.Fprintf(out, "Run %s: scheduled %d products in %d batches\n", res.RunID, res.TotalProducts, res.TotalBatches)
	case res.Stopped:
		fmt.Fprintf(out, "Run %s: stopped before all batches were processed\n", res.RunID)
	default:
		fmt.Fprintf(out, "Run %s: synced %d products in %d batches\n", res.RunID, res.TotalProducts, res.TotalBatches)
	}
	if res.Progress != nil {
		p := res.Progress
		fmt.Fprintf(out, "  processed %d/%d (%d%%), updated %d, created %d, errors %d\n",
			p.Processed, p.Total, p.Percent, p.Updated, p.Created, p.Errors)
	}
	return nil
}

func printStatus(cmd *cobra.Command, st syncer.Status) {
	out := cmd.OutOrStdout()
	state := "idle"
	if st.InProgress {
		state = "running"
	}
	fmt.Fprintf(out, "State:     %s\n", state)
	if st.RunID != "" {
		fmt.Fprintf(out, "Run:       %s\n", st.RunID)
	}
	fmt.Fprintf(out, "Progress:  %d/%d (%d%%)\n", st.Processed, st.Total, st.Percent)
	fmt.Fprintf(out, "Updated:   %d\nCreated:   %d\nErrors:    %d\n", st.Updated, st.Created, st.Errors)
	if st.LastSyncAt != nil {
		fmt.Fprintf(out, "Last sync: %s\n", st.LastSyncAt.Local().Format(time.DateTime))
	}
}

func printRuns(cmd *cobra.Command, runs []runlog.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sync runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tSTARTED\tPROCESSED\tUPDATED\tCREATED\tERRORS\tMESSAGE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Mode, r.Status, r.StartedAt.Local().Format(time.DateTime),
			r.Processed, r.Total, r.Updated, r.Created, r.ErrorCount, truncate(r.ErrorMessage, 60))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
