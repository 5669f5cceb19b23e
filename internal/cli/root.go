// Package cli wires the scribe command tree: init, commit, log,
// status, verify, and watch, plus the global flags shared by all of
// them. Commands print results to stdout; failures surface as typed
// errors that main formats as "error: <kind>: <detail>" on stderr.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// RootOptions holds the global flags.
type RootOptions struct {
	Verbose bool
	Quiet   bool
	Dir     string
}

// NewRootCommand creates the scribe root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scribe",
		Short: "Verifiable data lineage for your databases",
		Long: "Scribe brings Git-like version control to your data pipelines.\n" +
			"It tracks who changed a record, what process they used, and where\n" +
			"that data came from.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configureLogging(opts)
			if opts.Dir != "" {
				if err := os.Chdir(opts.Dir); err != nil {
					return scriberr.Wrap(scriberr.KindIO, err, "cannot change to directory %s", opts.Dir)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "produce verbose output")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress non-error output")
	cmd.PersistentFlags().StringVarP(&opts.Dir, "path", "C", "", "run as if scribe was started in PATH")

	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newCommitCommand(opts))
	cmd.AddCommand(newLogCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func configureLogging(opts *RootOptions) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	if opts.Quiet {
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// FormatError renders err for the CLI's stderr contract. Typed errors
// print as "<kind>: <detail>"; anything else prints verbatim.
func FormatError(err error) string {
	var se *scriberr.Error
	if errors.As(err, &se) {
		return se.Error()
	}
	return err.Error()
}

// exitError carries a silent non-zero exit for commands (like verify)
// that already printed their diagnosis.
type exitError struct{ code int }

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// SilentExitCode returns the exit code and true when err only asks for
// a non-zero exit, with nothing left to print.
func SilentExitCode(err error) (int, bool) {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, true
	}
	return 0, false
}
