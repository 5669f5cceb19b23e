package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/repo"
	"github.com/WildMix/Scribe/internal/scriberr"
)

type commitOptions struct {
	Message   string
	Author    string
	Role      string
	Process   string
	Version   string
	Table     string
	Operation string
	Data      string
}

func newCommitCommand(root *RootOptions) *cobra.Command {
	opts := &commitOptions{}

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record changes to the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&opts.Author, "author", "", "author ID (overrides config)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "author role (overrides config)")
	cmd.Flags().StringVar(&opts.Process, "process", "", "process name")
	cmd.Flags().StringVar(&opts.Version, "version", "", "process version")
	cmd.Flags().StringVar(&opts.Table, "table", "", "table name for change")
	cmd.Flags().StringVar(&opts.Operation, "operation", "", "operation (INSERT/UPDATE/DELETE)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "row payload for the change")

	return cmd
}

func runCommit(cmd *cobra.Command, root *RootOptions, opts *commitOptions) error {
	ctx := context.Background()

	r, err := repo.Open("")
	if err != nil {
		return err
	}
	defer r.Close()

	cfg, _ := r.LoadConfig()

	env := envelope.New()

	authorID, authorRole := opts.Author, opts.Role
	if authorID == "" && cfg != nil {
		authorID = cfg.AuthorID
	}
	if authorRole == "" && cfg != nil {
		authorRole = cfg.AuthorRole
	}
	if authorID == "" {
		authorID = "user:anonymous"
	}
	if authorRole == "" {
		authorRole = "unknown"
	}
	env.SetAuthor(authorID, authorRole)

	processName := opts.Process
	if processName == "" {
		processName = "manual"
	}
	env.SetProcess(processName, opts.Version, "")

	if opts.Message != "" {
		env.SetMessage(opts.Message)
	}

	head, err := r.Head(ctx)
	if err != nil {
		return err
	}
	if !head.IsZero() {
		env.SetParent(head)
	}

	if opts.Table != "" && opts.Operation != "" {
		if err := addFlagChange(ctx, r, env, opts); err != nil {
			return err
		}
	}

	if err := r.StoreCommit(ctx, env); err != nil {
		return err
	}

	if !root.Quiet {
		out := cmd.OutOrStdout()
		message := opts.Message
		if message == "" {
			message = "(no message)"
		}
		fmt.Fprintf(out, "[%s] %s\n", env.CommitID.Short(), message)
		fmt.Fprintf(out, " Author: %s (%s)\n", authorID, authorRole)
		fmt.Fprintf(out, " Process: %s\n", processName)
		if len(env.Changes) > 0 {
			fmt.Fprintf(out, " %d change(s) recorded\n", len(env.Changes))
		}
	}
	return nil
}

// addFlagChange records the single change described by the commit
// flags. The change digest is the SHA-256 of the payload; the payload
// is also stored as a blob object, which is addressed by its Git-style
// object hash, so the change digest is not a key into the object store.
func addFlagChange(ctx context.Context, r *repo.Repository, env *envelope.Envelope, opts *commitOptions) error {
	op, err := envelope.ParseOperation(opts.Operation)
	if err != nil {
		return err
	}

	pk := opts.Data
	if pk == "" {
		pk = "{}"
	}

	dataHash := digest.HashBytes([]byte(opts.Data))
	if opts.Data != "" {
		if _, err := r.PutBlob(ctx, []byte(opts.Data)); err != nil {
			return err
		}
	}

	var before, after digest.Digest
	switch op {
	case envelope.OpInsert:
		after = dataHash
	case envelope.OpDelete:
		before = dataHash
	case envelope.OpUpdate:
		// A single --data flag carries the after-image; the before
		// image is unknown here, recorded as the hash of no bytes.
		before = digest.HashBytes(nil)
		after = dataHash
	default:
		return scriberr.New(scriberr.KindInvalidArg, "unknown operation %q", opts.Operation)
	}

	return env.AddChange(opts.Table, op, pk, before, after)
}
