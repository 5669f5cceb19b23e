package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/repo"
	"github.com/WildMix/Scribe/internal/scriberr"
)

type statusOptions struct {
	Porcelain bool
}

func newStatusCommand(root *RootOptions) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the repository status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Porcelain, "porcelain", false, "machine-readable output")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *statusOptions) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	r, err := repo.Open("")
	if err != nil {
		return err
	}
	defer r.Close()

	head, err := r.Head(ctx)
	if err != nil {
		return err
	}

	if opts.Porcelain {
		if head.IsZero() {
			fmt.Fprintln(out, "head (none)")
		} else {
			fmt.Fprintf(out, "head %s\n", head.Hex())
		}
		return nil
	}

	fmt.Fprintf(out, "On repository: %s\n", r.Root())

	if head.IsZero() {
		fmt.Fprintln(out, "\nNo commits yet")
	} else {
		fmt.Fprintf(out, "\nHEAD: %s...\n", head.Short())

		env, err := r.LoadCommit(ctx, head)
		if err != nil && !scriberr.IsNotFound(err) {
			return err
		}
		if env != nil {
			fmt.Fprintln(out, "\nLatest commit:")
			fmt.Fprintf(out, "  Author:  %s", orUnknown(env.Author.ID))
			if env.Author.Role != "" {
				fmt.Fprintf(out, " (%s)", env.Author.Role)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Process: %s", orUnknown(env.Process.Name))
			if env.Process.Version != "" {
				fmt.Fprintf(out, " %s", env.Process.Version)
			}
			fmt.Fprintln(out)
			if env.Message != "" {
				fmt.Fprintf(out, "  Message: %s\n", env.Message)
			}
			fmt.Fprintf(out, "  Changes: %d\n", len(env.Changes))
		}
	}

	cfg, err := r.LoadConfig()
	if err != nil && !scriberr.IsNotFound(err) {
		return err
	}
	if cfg != nil {
		fmt.Fprintln(out, "\nConfiguration:")
		fmt.Fprintf(out, "  Default author: %s", orNotSet(cfg.AuthorID))
		if cfg.AuthorRole != "" {
			fmt.Fprintf(out, " (%s)", cfg.AuthorRole)
		}
		fmt.Fprintln(out)

		if cfg.PGConnectionString != "" {
			fmt.Fprintln(out, "  PostgreSQL: configured")
			if len(cfg.WatchedTables) > 0 {
				fmt.Fprintf(out, "  Watched tables: %s\n", strings.Join(cfg.WatchedTables, ", "))
			}
		}
	}

	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
