package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/repo"
)

type logOptions struct {
	Oneline bool
	Limit   int
	Author  string
	Process string
	JSON    bool
}

func newLogCommand(root *RootOptions) *cobra.Command {
	opts := &logOptions{}

	cmd := &cobra.Command{
		Use:   "log [commit]",
		Short: "Show commit logs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Oneline, "oneline", false, "show each commit on one line")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "limit number of commits shown")
	cmd.Flags().StringVar(&opts.Author, "author", "", "filter by author ID")
	cmd.Flags().StringVar(&opts.Process, "process", "", "filter by process name")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "output as JSON")

	return cmd
}

func runLog(cmd *cobra.Command, opts *logOptions, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	r, err := repo.Open("")
	if err != nil {
		return err
	}
	defer r.Close()

	start := digest.Zero
	if len(args) > 0 {
		if start, err = digest.FromHex(args[0]); err != nil {
			return err
		}
	}

	history, err := r.GetHistory(ctx, start, opts.Limit)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		if opts.JSON {
			fmt.Fprintln(out, "[]")
		} else {
			fmt.Fprintln(out, "No commits found")
		}
		return nil
	}

	var shown []*envelope.Envelope
	for _, id := range history {
		env, err := r.LoadCommit(ctx, id)
		if err != nil {
			return err
		}
		if opts.Author != "" && !strings.Contains(env.Author.ID, opts.Author) {
			continue
		}
		if opts.Process != "" && !strings.Contains(env.Process.Name, opts.Process) {
			continue
		}
		shown = append(shown, env)
	}

	if opts.JSON {
		if shown == nil {
			shown = []*envelope.Envelope{}
		}
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	for _, env := range shown {
		if opts.Oneline {
			printCommitOneline(out, env)
		} else {
			printCommitFull(out, env)
		}
	}
	return nil
}

func printCommitOneline(out io.Writer, env *envelope.Envelope) {
	line := env.CommitID.Short()
	if env.Author.ID != "" {
		line += " (" + env.Author.ID + ")"
	}
	if env.Message != "" {
		line += " " + env.Message
	} else {
		line += " (no message)"
	}
	fmt.Fprintln(out, line)
}

func printCommitFull(out io.Writer, env *envelope.Envelope) {
	fmt.Fprintf(out, "commit %s\n", env.CommitID.Hex())

	if !env.ParentID.IsZero() {
		fmt.Fprintf(out, "Parent: %s\n", env.ParentID.Hex())
	}

	fmt.Fprintf(out, "Author: %s", orUnknown(env.Author.ID))
	if env.Author.Role != "" {
		fmt.Fprintf(out, " <%s>", env.Author.Role)
	}
	if env.Author.Email != "" {
		fmt.Fprintf(out, " (%s)", env.Author.Email)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Process: %s", orUnknown(env.Process.Name))
	if env.Process.Version != "" {
		fmt.Fprintf(out, " %s", env.Process.Version)
	}
	if env.Process.Params != "" {
		fmt.Fprintf(out, " %s", env.Process.Params)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Date:   %s\n", time.Unix(env.Timestamp, 0).Format("2006-01-02 15:04:05"))

	if env.Message != "" {
		fmt.Fprintf(out, "\n    %s\n", env.Message)
	}

	if len(env.Changes) > 0 {
		fmt.Fprintf(out, "\n    Changes (%d):\n", len(env.Changes))
		for i, c := range env.Changes {
			if i == 5 {
				fmt.Fprintf(out, "      ... and %d more\n", len(env.Changes)-5)
				break
			}
			fmt.Fprintf(out, "      - %s %s", c.Op, c.Table)
			if c.PrimaryKey != "" {
				fmt.Fprintf(out, " %s", c.PrimaryKey)
			}
			fmt.Fprintln(out)
		}
	}

	fmt.Fprintln(out)
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
