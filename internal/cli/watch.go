package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/pgcdc"
	"github.com/WildMix/Scribe/internal/repo"
	"github.com/WildMix/Scribe/internal/scriberr"
)

type watchOptions struct {
	Connection string
	Tables     string
	Mode       string
	Interval   int
	Slot       string
	Setup      bool
	Cleanup    bool
}

func newWatchCommand(root *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor PostgreSQL for changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Connection, "connection", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&opts.Tables, "tables", "", "comma-separated list of tables to watch")
	cmd.Flags().StringVar(&opts.Mode, "mode", "logical", "CDC mode: trigger or logical")
	cmd.Flags().IntVar(&opts.Interval, "interval", 1000, "poll interval in milliseconds")
	cmd.Flags().StringVar(&opts.Slot, "slot", "scribe_slot", "replication slot name")
	cmd.Flags().BoolVar(&opts.Setup, "setup", false, "setup CDC infrastructure and exit")
	cmd.Flags().BoolVar(&opts.Cleanup, "cleanup", false, "cleanup CDC infrastructure and exit")

	return cmd
}

// parseTables splits a comma-separated table list, trimming blanks.
func parseTables(s string) []string {
	var tables []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			tables = append(tables, t)
		}
	}
	return tables
}

func runWatch(cmd *cobra.Command, root *RootOptions, opts *watchOptions) error {
	out := cmd.OutOrStdout()

	r, err := repo.Open("")
	if err != nil {
		return err
	}
	defer r.Close()

	cfg, err := r.LoadConfig()
	if err != nil && !scriberr.IsNotFound(err) {
		return err
	}

	connection := opts.Connection
	if connection == "" && cfg != nil {
		connection = cfg.PGConnectionString
	}
	if connection == "" {
		return scriberr.New(scriberr.KindInvalidArg,
			"no PostgreSQL connection string (use --connection or set pg_connection_string in config)")
	}

	var tables []string
	if opts.Tables != "" {
		tables = parseTables(opts.Tables)
	} else if cfg != nil {
		tables = cfg.WatchedTables
	}

	mode, err := pgcdc.ParseMode(opts.Mode)
	if err != nil {
		return err
	}

	monitor, err := pgcdc.NewMonitor(pgcdc.Config{
		ConnString:   connection,
		Mode:         mode,
		Tables:       tables,
		PollInterval: time.Duration(opts.Interval) * time.Millisecond,
		SlotName:     opts.Slot,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer monitor.Close(context.Background())

	if opts.Setup {
		fmt.Fprintf(out, "Setting up %s CDC for %d table(s)...\n", mode, len(tables))
		if err := monitor.Setup(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Setup complete!")
		return nil
	}

	if opts.Cleanup {
		fmt.Fprintln(out, "Cleaning up CDC infrastructure...")
		if err := monitor.Cleanup(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Cleanup complete!")
		return nil
	}

	fmt.Fprintf(out, "Setting up %s CDC...\n", mode)
	if err := monitor.Setup(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "Monitoring %d table(s) for changes (Ctrl+C to stop)...\n", len(tables))
	for _, table := range tables {
		fmt.Fprintf(out, "  - %s\n", table)
	}
	fmt.Fprintln(out)

	err = monitor.Start(ctx, func(ev pgcdc.RowEvent) {
		if !root.Quiet {
			fmt.Fprintf(out, "[%s] %s on %s\n", ev.Operation, ev.Table, ev.PrimaryKeyJSON)
		}

		id, err := pgcdc.CommitEvent(ctx, r, cfg, ev)
		if err != nil {
			slog.Error("failed to record change", "table", ev.Table, "error", err)
			return
		}
		if !root.Quiet {
			fmt.Fprintf(out, "  -> Committed: %s\n", id.Short())
		}
	})

	fmt.Fprintln(out, "Shutting down...")
	return err
}
