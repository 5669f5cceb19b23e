package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/repo"
	"github.com/WildMix/Scribe/internal/scriberr"
)

type verifyOptions struct {
	Verbose bool
	Full    bool
}

// verifyHistoryLimit bounds the HEAD-chain walk during verification.
const verifyHistoryLimit = 1000

func newVerifyCommand(root *RootOptions) *cobra.Command {
	opts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify [commit]",
		Short: "Verify repository integrity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Verbose, "verbose", false, "show detailed verification output")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "verify every stored commit, not just the HEAD chain")

	return cmd
}

func runVerify(cmd *cobra.Command, opts *verifyOptions, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	r, err := repo.Open("")
	if err != nil {
		return err
	}
	defer r.Close()

	var ids []digest.Digest
	if opts.Full {
		if ids, err = r.Store().AllCommitIDs(ctx); err != nil {
			return err
		}
	} else {
		start := digest.Zero
		if len(args) > 0 {
			if start, err = digest.FromHex(args[0]); err != nil {
				return err
			}
		} else {
			if start, err = r.Head(ctx); err != nil {
				return err
			}
		}

		if start.IsZero() {
			fmt.Fprintln(out, "Repository is empty (no commits to verify)")
			return nil
		}

		if ids, err = r.GetHistory(ctx, start, verifyHistoryLimit); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "Verifying repository integrity...")
	if opts.Verbose {
		fmt.Fprintln(out)
	}

	verified, failed := 0, 0
	for _, id := range ids {
		if verifyCommit(ctx, r, id, opts.Verbose, out) {
			verified++
		} else {
			failed++
		}
	}

	fmt.Fprintln(out)
	if failed == 0 {
		fmt.Fprintln(out, "Verification successful!")
		fmt.Fprintf(out, "  %d commit(s) verified\n", verified)
		fmt.Fprintln(out, "  All parent links valid")
		fmt.Fprintln(out, "  All commit hashes match")
		return nil
	}

	fmt.Fprintln(out, "Verification failed!")
	fmt.Fprintf(out, "  %d commit(s) verified\n", verified)
	fmt.Fprintf(out, "  %d commit(s) failed\n", failed)
	return &exitError{code: 1}
}

func verifyCommit(ctx context.Context, r *repo.Repository, id digest.Digest, verbose bool, out io.Writer) bool {
	if verbose {
		fmt.Fprintf(out, "Verifying commit %s... ", id.Short())
	}

	env, err := r.LoadCommit(ctx, id)
	if err != nil {
		if verbose {
			fmt.Fprintln(out, "FAILED (not found)")
		}
		return false
	}

	if err := env.Verify(); err != nil {
		if verbose {
			if scriberr.IsHashMismatch(err) {
				fmt.Fprintln(out, "FAILED (hash mismatch)")
			} else {
				fmt.Fprintf(out, "FAILED (%s)\n", FormatError(err))
			}
		}
		return false
	}

	if !env.ParentID.IsZero() {
		exists, err := r.Store().CommitExists(ctx, env.ParentID)
		if err != nil || !exists {
			if verbose {
				fmt.Fprintln(out, "FAILED (missing parent)")
			}
			return false
		}
	}

	if verbose {
		fmt.Fprintln(out, "OK")
	}
	return true
}
